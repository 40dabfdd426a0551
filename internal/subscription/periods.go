package subscription

import (
	"time"

	"amnezia-bot/internal/domain"
)

// Period is a billing period code.
type Period string

const (
	Period1Month   Period = "1_month"
	Period3Months  Period = "3_months"
	Period6Months  Period = "6_months"
	Period12Months Period = "12_months"
)

// Periods returns the configured billing periods in display order.
func Periods() []Period {
	return []Period{Period1Month, Period3Months, Period6Months, Period12Months}
}

// ParsePeriod validates a period code.
func ParsePeriod(s string) (Period, error) {
	for _, p := range Periods() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", domain.Validation("period", "Неизвестный период подписки: %s", s)
}

func (p Period) Months() int {
	switch p {
	case Period1Month:
		return 1
	case Period3Months:
		return 3
	case Period6Months:
		return 6
	case Period12Months:
		return 12
	}
	return 0
}

// Duration is 30 days per month. A billing month is a fixed 30 days,
// not a calendar month.
func (p Period) Duration() time.Duration {
	return time.Duration(p.Months()) * 30 * 24 * time.Hour
}

func (p Period) Title() string {
	switch p {
	case Period1Month:
		return "1 месяц"
	case Period3Months:
		return "3 месяца"
	case Period6Months:
		return "6 месяцев"
	case Period12Months:
		return "12 месяцев"
	}
	return string(p)
}
