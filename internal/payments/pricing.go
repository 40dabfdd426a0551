package payments

import (
	"sort"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
	"amnezia-bot/internal/subscription"
)

// defaultPrices seed the pricing document on first use, in rubles.
var defaultPrices = map[string]float64{
	string(subscription.Period1Month):   1000.0,
	string(subscription.Period3Months):  2500.0,
	string(subscription.Period6Months):  4500.0,
	string(subscription.Period12Months): 8000.0,
}

// Pricing is the admin-editable per-period price table. Edits take
// effect for future intents only; an already created intent keeps the
// amount it was priced at.
type Pricing struct {
	doc *store.Collection[float64]
}

func NewPricing(st *store.Store) *Pricing {
	return &Pricing{doc: store.NewCollection[float64](st, "pricing")}
}

// Price returns the current price for a period, falling back to the
// default when the document has no override.
func (p *Pricing) Price(period subscription.Period) (float64, error) {
	price, ok, err := p.doc.Get(string(period))
	if err != nil {
		return 0, err
	}
	if !ok {
		price, ok = defaultPrices[string(period)]
		if !ok {
			return 0, domain.NotFound("Нет цены для периода %s.", period)
		}
	}
	return price, nil
}

// SetPrice overrides the price for a period.
func (p *Pricing) SetPrice(period subscription.Period, price float64) error {
	if price < 0 {
		return domain.Validation("price", "Цена не может быть отрицательной.")
	}
	return p.doc.Update(func(m map[string]float64) error {
		m[string(period)] = price
		return nil
	})
}

// PricedPeriod is one row of the price list.
type PricedPeriod struct {
	Period subscription.Period
	Price  float64
}

// All returns the effective price for every period in display order.
func (p *Pricing) All() ([]PricedPeriod, error) {
	overrides, err := p.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make([]PricedPeriod, 0, len(subscription.Periods()))
	for _, period := range subscription.Periods() {
		price, ok := overrides[string(period)]
		if !ok {
			price = defaultPrices[string(period)]
		}
		out = append(out, PricedPeriod{Period: period, Price: price})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.Months() < out[j].Period.Months()
	})
	return out, nil
}
