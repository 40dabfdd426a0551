// Package subscription owns per-account expiration state: renewals,
// the expiration sweep and account issuance for promo and payment
// flows.
package subscription

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/store"
)

// Record is one account's expiration document entry. A nil Expiration
// means the account is unlimited.
type Record struct {
	Expiration   *time.Time `json:"expiration"`
	TrafficLimit string     `json:"traffic_limit"`
}

const unlimitedTraffic = "unlimited"

type Ledger struct {
	exp  *store.Collection[Record]
	bind *store.Collection[int64]
	prov provisioning.Provisioner
	log  *slog.Logger
	now  func() time.Time
}

func NewLedger(st *store.Store, bindings *store.Collection[int64], prov provisioning.Provisioner, log *slog.Logger) *Ledger {
	return &Ledger{
		exp:  store.NewCollection[Record](st, "user_expiration"),
		bind: bindings,
		prov: prov,
		log:  log,
		now:  time.Now,
	}
}

// SetExpiration stores the expiration; nil encodes unlimited.
func (l *Ledger) SetExpiration(username string, t *time.Time) error {
	return l.exp.Update(func(m map[string]Record) error {
		rec := m[username]
		rec.Expiration = t
		if rec.TrafficLimit == "" {
			rec.TrafficLimit = unlimitedTraffic
		}
		m[username] = rec
		return nil
	})
}

// Expiration returns the stored expiration. The bool reports whether a
// record exists at all; an account without a record is unlimited too.
func (l *Ledger) Expiration(username string) (*time.Time, bool, error) {
	rec, ok, err := l.exp.Get(username)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Expiration, true, nil
}

// Renew extends the subscription by the period, counting from the later
// of now and the current expiration so stacked renewals accumulate.
func (l *Ledger) Renew(username string, period Period) (time.Time, error) {
	var next time.Time
	err := l.exp.Update(func(m map[string]Record) error {
		base := l.now()
		rec := m[username]
		if rec.Expiration != nil && rec.Expiration.After(base) {
			base = *rec.Expiration
		}
		next = base.Add(period.Duration())
		rec.Expiration = &next
		if rec.TrafficLimit == "" {
			rec.TrafficLimit = unlimitedTraffic
		}
		m[username] = rec
		return nil
	})
	return next, err
}

// Remove deprovisions the account and clears its expiration and owner
// binding. A missing peer is treated as already satisfied, so the same
// username can be removed twice without harm.
func (l *Ledger) Remove(ctx context.Context, username string) error {
	if err := l.prov.Deprovision(ctx, username); err != nil {
		return err
	}
	if err := l.exp.Update(func(m map[string]Record) error {
		delete(m, username)
		return nil
	}); err != nil {
		return err
	}
	return l.bind.Update(func(m map[string]int64) error {
		delete(m, username)
		return nil
	})
}

// SweepExpired deprovisions every account whose expiration has passed
// and clears its records. Failures are isolated per account: one stuck
// peer cannot halt the sweep.
func (l *Ledger) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	m, err := l.exp.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load expirations")
	}

	var swept []string
	for username, rec := range m {
		if rec.Expiration == nil || rec.Expiration.After(now) {
			continue
		}
		if err := l.Remove(ctx, username); err != nil {
			l.log.Error("failed to deprovision expired account",
				"username", username, "err", err)
			continue
		}
		swept = append(swept, username)
	}
	return swept, nil
}

// Issue provisions a fresh account for a Telegram user: generated
// username, owner binding, and an expiration one period ahead (or
// unlimited when period is empty). Used by promo grants and completed
// payments.
func (l *Ledger) Issue(ctx context.Context, telegramID int64, period Period) (string, provisioning.Credential, error) {
	var (
		username string
		cred     provisioning.Credential
		err      error
	)
	// A suffix collision is possible, retry with a fresh one.
	for attempt := 0; attempt < 3; attempt++ {
		suffix := make([]byte, 2)
		if _, err := rand.Read(suffix); err != nil {
			return "", "", errors.Wrap(err, "failed to generate username suffix")
		}
		username = fmt.Sprintf("user%d_%s", telegramID, hex.EncodeToString(suffix))
		cred, err = l.prov.Provision(ctx, username)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", "", err
	}

	// Binding and expiration are best effort after the peer exists: an
	// account with no expiration record is unlimited, never invalid.
	if err := l.prov.BindOwner(ctx, username, &telegramID); err != nil {
		l.log.Error("failed to bind owner", "username", username, "err", err)
	}
	if period != "" {
		exp := l.now().Add(period.Duration())
		if err := l.SetExpiration(username, &exp); err != nil {
			l.log.Error("failed to set expiration", "username", username, "err", err)
		}
	}
	return username, cred, nil
}

// AccountInfo merges the daemon view with the documents for listings
// and reports.
type AccountInfo struct {
	Username      string
	Owner         *int64
	Expiration    *time.Time
	LastHandshake time.Time
	ReceiveBytes  int64
	TransmitBytes int64
}

// Overview lists every provisioned account with owner, expiration and
// transfer metadata.
func (l *Ledger) Overview(ctx context.Context) ([]AccountInfo, error) {
	peers, err := l.prov.ActivePeers(ctx)
	if err != nil {
		return nil, err
	}
	exps, err := l.exp.Load()
	if err != nil {
		return nil, err
	}
	binds, err := l.bind.Load()
	if err != nil {
		return nil, err
	}

	out := make([]AccountInfo, 0, len(peers))
	for _, p := range peers {
		info := AccountInfo{
			Username:      p.Username,
			LastHandshake: p.LastHandshake,
			ReceiveBytes:  p.ReceiveBytes,
			TransmitBytes: p.TransmitBytes,
		}
		if rec, ok := exps[p.Username]; ok {
			info.Expiration = rec.Expiration
		}
		if owner, ok := binds[p.Username]; ok {
			id := owner
			info.Owner = &id
		}
		out = append(out, info)
	}
	return out, nil
}

// Exists reports whether the username is currently provisioned.
func (l *Ledger) Exists(ctx context.Context, username string) (bool, error) {
	peers, err := l.prov.ActivePeers(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if p.Username == username {
			return true, nil
		}
	}
	return false, nil
}
