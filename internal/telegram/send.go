package telegram

import (
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.client.api.Send(c); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (b *Bot) answerCallback(id string) {
	if _, err := b.client.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		log.Printf("Error answering callback: %v", err)
	}
}
