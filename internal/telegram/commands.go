package telegram

import (
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var botCommands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Главное меню"},
	{Command: "menu", Description: "Меню бота"},
	{Command: "help", Description: "Помощь"},
}

func (b *Bot) setMyCommands() error {
	data, err := json.Marshal(botCommands)
	if err != nil {
		return err
	}
	params := make(tgbotapi.Params)
	params.AddNonEmpty("commands", string(data))
	_, err = b.api.MakeRequest("setMyCommands", params)
	return err
}
