package payments

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/store"
	"amnezia-bot/internal/subscription"
)

// Status of a payment intent.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Intent is one stored payment intent. Amount is frozen at creation:
// later price edits never change what an open intent charges.
type Intent struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Amount     float64   `json:"amount"`
	Status     string    `json:"status"`
	Period     string    `json:"period"`
	ExternalID string    `json:"external_id"`
	PayURL     string    `json:"pay_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// issuer provisions an account for a settled payment.
type issuer interface {
	Issue(ctx context.Context, telegramID int64, period subscription.Period) (string, provisioning.Credential, error)
}

// Ledger stores payment intents and reconciles them against the oracle.
type Ledger struct {
	doc     *store.Collection[Intent]
	oracle  Oracle
	pricing *Pricing
	issuer  issuer
	log     *slog.Logger
	now     func() time.Time
}

func NewLedger(st *store.Store, oracle Oracle, pricing *Pricing, iss issuer, log *slog.Logger) *Ledger {
	return &Ledger{
		doc:     store.NewCollection[Intent](st, "payments"),
		oracle:  oracle,
		pricing: pricing,
		issuer:  iss,
		log:     log,
		now:     time.Now,
	}
}

// CreateIntent prices the period, applies the discount, creates the
// payable at the oracle and stores the pending intent.
func (l *Ledger) CreateIntent(ctx context.Context, userID int64, period subscription.Period, discountPercent float64) (Intent, error) {
	price, err := l.pricing.Price(period)
	if err != nil {
		return Intent{}, err
	}
	amount := price * (1 - discountPercent/100)

	payable, err := l.oracle.CreatePayable(ctx, amount, "VPN подписка: "+period.Title())
	if err != nil {
		return Intent{}, err
	}

	intent := Intent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     amount,
		Status:     StatusPending,
		Period:     string(period),
		ExternalID: payable.ExternalID,
		PayURL:     payable.URL,
		CreatedAt:  l.now(),
	}
	if err := l.doc.Update(func(m map[string]Intent) error {
		m[intent.ID] = intent
		return nil
	}); err != nil {
		return Intent{}, errors.Wrap(err, "failed to store payment intent")
	}
	return intent, nil
}

// Get returns one intent by id.
func (l *Ledger) Get(id string) (Intent, error) {
	intent, ok, err := l.doc.Get(id)
	if err != nil {
		return Intent{}, err
	}
	if !ok {
		return Intent{}, domain.NotFound("Платёж %s не найден.", id)
	}
	return intent, nil
}

// PendingFor returns the open intent for a user and period, if any.
// The purchase flow reuses it so a double tap on the same button never
// creates a second charge.
func (l *Ledger) PendingFor(userID int64, period subscription.Period) (Intent, bool, error) {
	m, err := l.doc.Load()
	if err != nil {
		return Intent{}, false, err
	}
	for _, intent := range m {
		if intent.UserID == userID && intent.Period == string(period) && intent.Status == StatusPending {
			return intent, true, nil
		}
	}
	return Intent{}, false, nil
}

// Completion is one settled payment turned into an account, returned
// so the caller can notify the payer.
type Completion struct {
	Intent     Intent
	Username   string
	Credential provisioning.Credential
}

// ReconcilePending queries the oracle for every pending intent. A
// settled intent is first transitioned to completed and only then
// provisioned, so a crash between the two leaves a paid user without
// an account (fixable by an admin) rather than ever provisioning the
// same payment twice. Failures are isolated per intent.
func (l *Ledger) ReconcilePending(ctx context.Context) ([]Completion, error) {
	return l.reconcile(ctx, func(Intent) bool { return true }, 0)
}

// ReconcileFor reconciles only one user's pending intents and stops
// after the first completion. A completion carries the sole copy of
// the credential, and the interactive payment check can render exactly
// one; everything it leaves pending is picked up by the scheduler
// pass, which delivers each credential through the notifier.
func (l *Ledger) ReconcileFor(ctx context.Context, userID int64) ([]Completion, error) {
	return l.reconcile(ctx, func(i Intent) bool { return i.UserID == userID }, 1)
}

func (l *Ledger) reconcile(ctx context.Context, match func(Intent) bool, limit int) ([]Completion, error) {
	m, err := l.doc.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load payments")
	}

	var completions []Completion
	for id, intent := range m {
		if intent.Status != StatusPending || !match(intent) {
			continue
		}
		status, err := l.oracle.QueryStatus(ctx, intent.ExternalID)
		if err != nil {
			l.log.Error("failed to query payment status",
				"payment", id, "external_id", intent.ExternalID, "err", err)
			continue
		}

		switch status {
		case SettlementFailed:
			if err := l.transition(id, StatusPending, StatusFailed); err != nil {
				l.log.Error("failed to mark payment failed", "payment", id, "err", err)
			}
		case SettlementSettled:
			// Compare-and-set: a concurrent reconcile that already moved
			// this intent off pending makes transition fail, and this
			// pass skips the provision.
			if err := l.transition(id, StatusPending, StatusCompleted); err != nil {
				if !domain.IsConflict(err) {
					l.log.Error("failed to complete payment", "payment", id, "err", err)
				}
				continue
			}
			username, cred, err := l.issuer.Issue(ctx, intent.UserID, subscription.Period(intent.Period))
			if err != nil {
				l.log.Error("paid payment could not be provisioned",
					"payment", id, "user_id", intent.UserID, "err", err)
				continue
			}
			intent.Status = StatusCompleted
			completions = append(completions, Completion{
				Intent:     intent,
				Username:   username,
				Credential: cred,
			})
			if limit > 0 && len(completions) >= limit {
				return completions, nil
			}
		}
	}
	return completions, nil
}

// transition moves an intent from one status to another atomically.
func (l *Ledger) transition(id, from, to string) error {
	return l.doc.Update(func(m map[string]Intent) error {
		intent, ok := m[id]
		if !ok {
			return domain.NotFound("Платёж %s не найден.", id)
		}
		if intent.Status != from {
			return domain.Conflict("payment %s is %s, not %s", id, intent.Status, from)
		}
		intent.Status = to
		m[id] = intent
		return nil
	})
}

// History returns a user's intents, newest first.
func (l *Ledger) History(userID int64) ([]Intent, error) {
	m, err := l.doc.Load()
	if err != nil {
		return nil, err
	}
	var out []Intent
	for _, intent := range m {
		if intent.UserID == userID {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
