package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"amnezia-bot/internal/dialog"
	"amnezia-bot/internal/roster"
	"amnezia-bot/internal/subscription"
)

func button(label string, action dialog.Action, arg string) tgbotapi.InlineKeyboardButton {
	data := string(action)
	if arg != "" {
		data += ":" + arg
	}
	return tgbotapi.NewInlineKeyboardButtonData(label, data)
}

var goToMenuButton = tgbotapi.NewInlineKeyboardButtonData("◀️ Меню", string(dialog.ActionMenu))

// mainMenuKeyboard builds the role-dependent main menu: users see the
// purchase flow, moderators gain account listing and creation, admins
// see everything.
func (b *Bot) mainMenuKeyboard(userID int64) tgbotapi.InlineKeyboardMarkup {
	role, err := b.roster.RoleOf(userID)
	if err != nil {
		b.log.Error("failed to resolve role for menu", "user_id", userID, "err", err)
		role = roster.RoleUser
	}

	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			button("💳 Купить", dialog.ActionBuy, ""),
			button("✅ Я оплатил", dialog.ActionCheckPayment, ""),
		},
		{
			button("🎁 Промокод", dialog.ActionRedeemPromo, ""),
			button("📱 Мои аккаунты", dialog.ActionMyAccounts, ""),
		},
		{
			button("ℹ️ Помощь", dialog.ActionHelp, ""),
		},
	}

	if role >= roster.RoleModerator {
		rows = append(rows,
			[]tgbotapi.InlineKeyboardButton{
				button("📋 Аккаунты", dialog.ActionListAccounts, ""),
				button("📡 Подключения", dialog.ActionActivePeers, ""),
			},
			[]tgbotapi.InlineKeyboardButton{
				button("➕ Создать аккаунт", dialog.ActionAddAccount, ""),
			})
	}
	if role >= roster.RoleAdmin {
		rows = append(rows,
			[]tgbotapi.InlineKeyboardButton{
				button("🗑 Удалить аккаунт", dialog.ActionDeleteAccount, ""),
				button("🔄 Продлить", dialog.ActionRenewAccount, ""),
			},
			[]tgbotapi.InlineKeyboardButton{
				button("🏷 Промокоды", dialog.ActionListPromos, ""),
				button("➕ Промокод", dialog.ActionCreatePromo, ""),
				button("🗑 Промокод", dialog.ActionDeletePromo, ""),
			},
			[]tgbotapi.InlineKeyboardButton{
				button("👤 + Админ", dialog.ActionAddAdmin, ""),
				button("👤 - Админ", dialog.ActionRemoveAdmin, ""),
			},
			[]tgbotapi.InlineKeyboardButton{
				button("👥 + Модератор", dialog.ActionAddModerator, ""),
				button("👥 - Модератор", dialog.ActionRemoveModerator, ""),
			},
			[]tgbotapi.InlineKeyboardButton{
				button("💰 Цены", dialog.ActionSetPrice, ""),
				button("💾 Бэкап", dialog.ActionBackup, ""),
				button("📊 Отчёт", dialog.ActionReport, ""),
			})
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// periodKeyboard renders one button per billing period, all firing the
// same action with the period code as argument.
func periodKeyboard(action dialog.Action) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, p := range subscription.Periods() {
		row = append(row, button(p.Title(), action, string(p)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(row...),
		tgbotapi.NewInlineKeyboardRow(goToMenuButton),
	)
}

// paymentKeyboard shows the pay link plus the settlement check button.
func paymentKeyboard(payURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💳 Оплатить", payURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("✅ Я оплатил", dialog.ActionCheckPayment, ""),
		),
		tgbotapi.NewInlineKeyboardRow(goToMenuButton),
	)
}
