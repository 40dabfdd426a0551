package dialog

import (
	"strings"

	"amnezia-bot/internal/roster"
)

// Action is a named button gesture. The set is closed: an unknown
// callback tag is rejected at parse time, never dispatched.
type Action string

const (
	ActionMenu Action = "menu"
	ActionHelp Action = "help"

	// User-facing purchase flow.
	ActionMyAccounts   Action = "my_accounts"
	ActionBuy          Action = "buy"
	ActionBuyPeriod    Action = "buy_period"    // arg: period code
	ActionCheckPayment Action = "check_payment" // arg: intent id (optional)
	ActionRedeemPromo  Action = "redeem_promo"

	// Account administration.
	ActionListAccounts  Action = "list_accounts"
	ActionActivePeers   Action = "active_peers"
	ActionAddAccount    Action = "add_account"
	ActionDeleteAccount Action = "delete_account"
	ActionRenewAccount  Action = "renew_account"
	ActionRenewPeriod   Action = "renew_period" // arg: period code

	// Roster administration.
	ActionAddAdmin        Action = "add_admin"
	ActionRemoveAdmin     Action = "remove_admin"
	ActionAddModerator    Action = "add_moderator"
	ActionRemoveModerator Action = "remove_moderator"

	// Promo administration.
	ActionCreatePromo Action = "create_promo"
	ActionDeletePromo Action = "delete_promo"
	ActionListPromos  Action = "list_promos"

	// Pricing, backup, reporting.
	ActionSetPrice       Action = "set_price"        // no arg: choose period
	ActionSetPricePeriod Action = "set_price_period" // arg: period code
	ActionBackup         Action = "backup"
	ActionReport         Action = "report"
)

// actionRoles declares the minimum role per action. Absence means the
// action does not exist.
var actionRoles = map[Action]roster.Role{
	ActionMenu:         roster.RoleUser,
	ActionHelp:         roster.RoleUser,
	ActionMyAccounts:   roster.RoleUser,
	ActionBuy:          roster.RoleUser,
	ActionBuyPeriod:    roster.RoleUser,
	ActionCheckPayment: roster.RoleUser,
	ActionRedeemPromo:  roster.RoleUser,

	ActionListAccounts: roster.RoleModerator,
	ActionActivePeers:  roster.RoleModerator,
	ActionAddAccount:   roster.RoleModerator,

	ActionDeleteAccount: roster.RoleAdmin,
	ActionRenewAccount:  roster.RoleAdmin,
	ActionRenewPeriod:   roster.RoleAdmin,

	ActionAddAdmin:        roster.RoleAdmin,
	ActionRemoveAdmin:     roster.RoleAdmin,
	ActionAddModerator:    roster.RoleAdmin,
	ActionRemoveModerator: roster.RoleAdmin,

	ActionCreatePromo: roster.RoleAdmin,
	ActionDeletePromo: roster.RoleAdmin,
	ActionListPromos:  roster.RoleAdmin,

	ActionSetPrice:       roster.RoleAdmin,
	ActionSetPricePeriod: roster.RoleAdmin,
	ActionBackup:         roster.RoleAdmin,
	ActionReport:         roster.RoleAdmin,
}

// ParseCallback splits a "action:arg" callback payload into a known
// action and its argument. The bool reports whether the action exists.
func ParseCallback(data string) (Action, string, bool) {
	name, arg, _ := strings.Cut(data, ":")
	action := Action(name)
	if _, ok := actionRoles[action]; !ok {
		return "", "", false
	}
	return action, arg, true
}
