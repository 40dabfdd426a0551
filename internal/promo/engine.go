// Package promo validates and redeems promo codes with durable usage
// caps: the eligibility check and the usage increment happen inside one
// document update, so concurrent redemptions can never oversell a code.
package promo

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
	"amnezia-bot/internal/subscription"
)

// Record is the stored shape of a promo code.
type Record struct {
	Discount     float64    `json:"discount"`
	ExpiresAt    *time.Time `json:"expires_at"`
	MaxUses      *int       `json:"max_uses"`
	Uses         int        `json:"uses"`
	GrantsPeriod string     `json:"subscription_period,omitempty"`
}

// Redemption is the successful outcome handed to the purchase flow.
type Redemption struct {
	Code            string
	DiscountPercent float64
	GrantsPeriod    subscription.Period // empty: discount only
}

type Engine struct {
	doc *store.Collection[Record]
	log *slog.Logger
	now func() time.Time
}

func NewEngine(st *store.Store, log *slog.Logger) *Engine {
	return &Engine{
		doc: store.NewCollection[Record](st, "promocodes"),
		log: log,
		now: time.Now,
	}
}

// Create stores a new code. An existing code is never overwritten.
func (e *Engine) Create(def Definition) error {
	return e.doc.Update(func(m map[string]Record) error {
		if _, ok := m[def.Code]; ok {
			return domain.Conflict("Промокод %s уже существует.", def.Code)
		}
		rec := Record{
			Discount:     def.DiscountPercent,
			MaxUses:      def.MaxUses,
			GrantsPeriod: string(def.GrantsPeriod),
		}
		if def.TTLDays != nil {
			exp := e.now().Add(time.Duration(*def.TTLDays) * 24 * time.Hour)
			rec.ExpiresAt = &exp
		}
		m[def.Code] = rec
		return nil
	})
}

// Redeem checks eligibility and increments the usage counter in one
// atomic document update. Rejections: not found, expired, exhausted.
func (e *Engine) Redeem(code string) (Redemption, error) {
	var red Redemption
	err := e.doc.Update(func(m map[string]Record) error {
		rec, ok := m[code]
		if !ok {
			return domain.NotFound("Промокод %s не найден.", code)
		}
		now := e.now()
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			return domain.Conflict("Срок действия промокода %s истёк.", code)
		}
		if rec.MaxUses != nil && rec.Uses >= *rec.MaxUses {
			return domain.Conflict("Промокод %s уже использован максимальное число раз.", code)
		}
		rec.Uses++
		m[code] = rec
		red = Redemption{
			Code:            code,
			DiscountPercent: rec.Discount,
			GrantsPeriod:    subscription.Period(rec.GrantsPeriod),
		}
		return nil
	})
	if err != nil {
		return Redemption{}, err
	}
	return red, nil
}

// Refund returns one use to a code after the grant it paid for could
// not be delivered. A deleted code or an untouched counter is a no-op.
func (e *Engine) Refund(code string) error {
	return e.doc.Update(func(m map[string]Record) error {
		rec, ok := m[code]
		if !ok || rec.Uses == 0 {
			return nil
		}
		rec.Uses--
		m[code] = rec
		return nil
	})
}

func (e *Engine) Delete(code string) error {
	return e.doc.Update(func(m map[string]Record) error {
		if _, ok := m[code]; !ok {
			return domain.NotFound("Промокод %s не найден.", code)
		}
		delete(m, code)
		return nil
	})
}

// Info is a code with its display form of remaining uses.
type Info struct {
	Code      string
	Record    Record
	Remaining string
}

// List returns every code sorted by name with a computed remaining-uses
// display value.
func (e *Engine) List() ([]Info, error) {
	m, err := e.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(m))
	for code, rec := range m {
		remaining := "∞"
		if rec.MaxUses != nil {
			left := *rec.MaxUses - rec.Uses
			if left < 0 {
				left = 0
			}
			remaining = fmt.Sprintf("%d", left)
		}
		out = append(out, Info{Code: code, Record: rec, Remaining: remaining})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
