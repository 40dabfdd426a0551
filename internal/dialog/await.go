package dialog

import (
	"regexp"
	"strconv"
	"time"

	"amnezia-bot/internal/domain"
)

// Awaiting tags name the free-text input the session expects next.
// Empty means idle. The set is flat: idle plus exactly one pending
// capture, never nested.
const (
	awaitAddUsername    = "add_username"
	awaitDeleteUsername = "delete_username"
	awaitRenewUsername  = "renew_username"
	awaitRenewValue     = "renew_value" // DD-MM-YYYY date; periods go via buttons
	awaitAdminID        = "admin_id"
	awaitRemoveAdminID  = "remove_admin_id"
	awaitModeratorID    = "moderator_id"
	awaitRemoveModID    = "remove_moderator_id"
	awaitPromoDef       = "promo_definition"
	awaitPromoDelete    = "promo_delete"
	awaitPromoCode      = "promo_code"
	awaitPrice          = "price"
)

// Session context keys.
const (
	ctxRenewalTarget  = "renewal_target_username"
	ctxPendingPayment = "pending_payment_id"
	ctxPromoDiscount  = "promo_discount_percent"
	ctxPricePeriod    = "price_period"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const dateLayout = "02-01-2006"

func parseUsername(text string) (string, error) {
	if !usernameRe.MatchString(text) {
		return "", domain.Validation("username",
			"Имя пользователя может содержать только буквы, цифры, _ и -. Попробуйте ещё раз.")
	}
	return text, nil
}

func parseTelegramID(text string) (int64, error) {
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validation("telegram_id",
			"Telegram ID должен быть положительным числом. Попробуйте ещё раз.")
	}
	return id, nil
}

func parsePrice(text string) (float64, error) {
	price, err := strconv.ParseFloat(text, 64)
	if err != nil || price < 0 {
		return 0, domain.Validation("price",
			"Цена должна быть неотрицательным числом. Попробуйте ещё раз.")
	}
	return price, nil
}

func parseDate(text string) (time.Time, error) {
	t, err := time.Parse(dateLayout, text)
	if err != nil {
		return time.Time{}, domain.Validation("date",
			"Дата должна быть в формате ДД-ММ-ГГГГ, например 31-12-2026.")
	}
	return t, nil
}
