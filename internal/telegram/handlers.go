package telegram

import (
	"bytes"
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/yeqown/go-qrcode"

	"amnezia-bot/internal/dialog"
	"amnezia-bot/internal/provisioning"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	var render dialog.Render
	switch msg.Command() {
	case "start", "menu":
		render = b.machine.HandleAction(ctx, userID, dialog.ActionMenu, "")
	case "help":
		render = b.machine.HandleAction(ctx, userID, dialog.ActionHelp, "")
	case "":
		render = b.machine.HandleText(ctx, userID, msg.Text)
	default:
		render = b.machine.HandleAction(ctx, userID, dialog.ActionHelp, "")
	}
	b.deliver(ctx, msg.Chat.ID, userID, render)
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Acknowledge the tap so the client stops its spinner.
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.log.Error("failed to answer callback", "err", err)
	}

	// A callback from an inaccessible or very old message carries no
	// message, so there is no chat to reply into.
	if query.Message == nil {
		b.log.Warn("callback without message", "user_id", query.From.ID)
		return
	}

	userID := query.From.ID
	chatID := query.Message.Chat.ID

	action, arg, ok := dialog.ParseCallback(query.Data)
	if !ok {
		b.log.Warn("unknown callback tag", "data", query.Data, "user_id", userID)
		return
	}

	render := b.machine.HandleAction(ctx, userID, action, arg)
	b.deliver(ctx, chatID, userID, render)
}

// deliver turns one dialog render into transport traffic. A menu render
// edits the anchor message in place when the dialog asks for it,
// otherwise goes out fresh and becomes the new anchor. Attachments
// (credential, payment button, files) are always separate messages.
func (b *Bot) deliver(ctx context.Context, chatID, userID int64, render dialog.Render) {
	if render.Text != "" {
		markup, hasMenu := b.menuMarkup(userID, render)
		switch {
		case render.Edit && hasMenu:
			edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, render.AnchorMessageID, render.Text, markup)
			if _, err := b.api.Send(edit); err != nil {
				// Stale anchor: the message was deleted or is too old to
				// edit. Fall back to a fresh menu message.
				b.log.Warn("failed to edit anchor message",
					"chat_id", chatID, "message_id", render.AnchorMessageID, "err", err)
				b.sendMenu(ctx, chatID, userID, render.Text, markup)
			}
		case hasMenu:
			b.sendMenu(ctx, chatID, userID, render.Text, markup)
		default:
			msg := tgbotapi.NewMessage(chatID, render.Text)
			if render.PayURL != "" {
				msg.ReplyMarkup = paymentKeyboard(render.PayURL)
			}
			b.send(msg)
		}
	}

	if render.Credential != "" {
		for _, msg := range credentialMessages(chatID, "", render.Credential) {
			b.send(msg)
		}
	}
	if render.FilePath != "" {
		b.send(tgbotapi.NewDocument(chatID, tgbotapi.FilePath(render.FilePath)))
	}
}

func (b *Bot) menuMarkup(userID int64, render dialog.Render) (tgbotapi.InlineKeyboardMarkup, bool) {
	switch render.Menu {
	case dialog.MenuPeriods:
		return periodKeyboard(render.PeriodAction), true
	case dialog.MenuMain:
		return b.mainMenuKeyboard(userID), true
	}
	return tgbotapi.InlineKeyboardMarkup{}, false
}

// sendMenu sends a fresh menu message and records it as the anchor for
// later in-place edits.
func (b *Bot) sendMenu(ctx context.Context, chatID, userID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	sent, err := b.api.Send(msg)
	if err != nil {
		b.log.Error("failed to send menu message", "chat_id", chatID, "err", err)
		return
	}
	b.machine.SetAnchor(ctx, userID, sent.MessageID)
}

// credentialMessages packages a credential as a shareable document plus
// a scannable QR code.
func credentialMessages(chatID int64, text string, cred provisioning.Credential) []tgbotapi.Chattable {
	var out []tgbotapi.Chattable
	if text != "" {
		out = append(out, tgbotapi.NewMessage(chatID, text))
	}

	name := "vpn_" + strconv.FormatInt(time.Now().Unix(), 10) + ".txt"
	out = append(out, tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  name,
		Bytes: []byte(cred),
	}))

	if qr := credentialQR(chatID, cred); qr != nil {
		out = append(out, qr)
	}
	return out
}

func credentialQR(chatID int64, cred provisioning.Credential) tgbotapi.Chattable {
	qrc, err := qrcode.New(string(cred),
		qrcode.WithQRWidth(7),
		qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT))
	if err != nil {
		return nil
	}
	buf := bytes.Buffer{}
	if err := qrc.SaveTo(&buf); err != nil {
		return nil
	}
	return tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "vpn_qr.png",
		Bytes: buf.Bytes(),
	})
}
