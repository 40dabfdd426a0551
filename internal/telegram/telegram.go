// Package telegram is the thin bot frontend: it maps updates to dialog
// calls and renders the results. No domain logic lives here.
package telegram

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"amnezia-bot/internal/dialog"
	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/roster"
)

type Bot struct {
	api     *tgbotapi.BotAPI
	machine *dialog.Machine
	roster  *roster.Roster
	log     *slog.Logger
}

func NewBot(token string, machine *dialog.Machine, ros *roster.Roster, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to telegram")
	}
	log.Info("bot authorized", "username", api.Self.UserName)

	bot := &Bot{api: api, machine: machine, roster: ros, log: log}
	if err := bot.setMyCommands(); err != nil {
		return nil, err
	}
	return bot, nil
}

// Run polls for updates until ctx is cancelled. Updates are processed
// sequentially, which keeps per-user session mutations strictly
// ordered.
func (b *Bot) Run(ctx context.Context) error {
	config := tgbotapi.NewUpdate(0)
	config.Timeout = 30
	updates := b.api.GetUpdatesChan(config)

	for {
		select {
		case update := <-updates:
			b.handle(ctx, &update)
		case <-ctx.Done():
			b.log.Info("stopping bot", "reason", ctx.Err())
			b.api.StopReceivingUpdates()
			return nil
		}
	}
}

func (b *Bot) handle(ctx context.Context, update *tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if c == nil {
		return
	}
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("failed to send message", "err", err)
	}
}

// SendNotification delivers a plain out-of-band message, used by the
// scheduler.
func (b *Bot) SendNotification(telegramID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(telegramID, text))
	return errors.Wrap(err, "failed to send notification")
}

// SendCredential delivers a message plus the credential document and QR.
func (b *Bot) SendCredential(telegramID int64, text string, cred provisioning.Credential) error {
	for _, msg := range credentialMessages(telegramID, text, cred) {
		if _, err := b.api.Send(msg); err != nil {
			return errors.Wrap(err, "failed to send credential")
		}
	}
	return nil
}

// NotifyAdmins fans a message out to every admin. Delivery failures to
// one admin do not block the rest.
func (b *Bot) NotifyAdmins(text string) error {
	admins, err := b.roster.Admins()
	if err != nil {
		return err
	}
	for _, id := range admins {
		if err := b.SendNotification(id, text); err != nil {
			b.log.Error("failed to notify admin", "admin_id", id, "err", err)
		}
	}
	return nil
}
