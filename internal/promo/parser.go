package promo

import (
	"regexp"
	"strconv"
	"strings"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/subscription"
)

// Definition is a parsed promo code definition entered by an admin.
type Definition struct {
	Code            string
	DiscountPercent float64
	TTLDays         *int
	MaxUses         *int
	// GrantsPeriod, when set, makes redemption issue a free account for
	// that period instead of a discount.
	GrantsPeriod subscription.Period
}

var codeRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ParseDefinition reads the 5-field admin line:
//
//	<code> <discount%> <ttl days|-> <max uses|-> <period|->
//
// for example: SAVE10 10 30 100 -
// Every rejected field names itself, no catch-all "bad format".
func ParseDefinition(line string) (Definition, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 5 {
		return Definition{}, domain.Validation("definition",
			"Нужно 5 полей: код, скидка %%, срок в днях (или -), число использований (или -), период (или -). Получено %d.", len(fields))
	}

	var def Definition

	if !codeRe.MatchString(fields[0]) {
		return Definition{}, domain.Validation("code",
			"Код %q может содержать только буквы, цифры, _ и -.", fields[0])
	}
	def.Code = fields[0]

	discount, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || discount < 0 || discount > 100 {
		return Definition{}, domain.Validation("discount",
			"Скидка должна быть числом от 0 до 100, получено %q.", fields[1])
	}
	def.DiscountPercent = discount

	if fields[2] != "-" {
		days, err := strconv.Atoi(fields[2])
		if err != nil || days <= 0 {
			return Definition{}, domain.Validation("ttl_days",
				"Срок действия должен быть положительным числом дней или -, получено %q.", fields[2])
		}
		def.TTLDays = &days
	}

	if fields[3] != "-" {
		uses, err := strconv.Atoi(fields[3])
		if err != nil || uses <= 0 {
			return Definition{}, domain.Validation("max_uses",
				"Число использований должно быть положительным или -, получено %q.", fields[3])
		}
		def.MaxUses = &uses
	}

	if fields[4] != "-" {
		period, err := subscription.ParsePeriod(fields[4])
		if err != nil {
			return Definition{}, domain.Validation("period",
				"Период должен быть одним из %s или -, получено %q.", periodList(), fields[4])
		}
		def.GrantsPeriod = period
	}

	return def, nil
}

func periodList() string {
	codes := make([]string, 0, len(subscription.Periods()))
	for _, p := range subscription.Periods() {
		codes = append(codes, string(p))
	}
	return strings.Join(codes, ", ")
}
