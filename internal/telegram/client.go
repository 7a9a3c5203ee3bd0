package telegram

import (
	"context"
	"fmt"
	"log"

	"gatebot/internal/gate"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client wraps the Bot API connection. It is the only package talking to
// Telegram; the rest of the engine sees it through the gate.Oracle and
// broadcast.Sender interfaces.
type Client struct {
	api *tgbotapi.BotAPI
}

func NewClient(token string) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to bot api: %w", err)
	}

	log.Printf("Authorized as @%s", api.Self.UserName)
	return &Client{api: api}, nil
}

// GetMembershipStatus implements gate.Oracle.
func (c *Client) GetMembershipStatus(ctx context.Context, channel string, userID int64) (gate.Status, error) {
	if err := ctx.Err(); err != nil {
		return gate.StatusUnknown, err
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: "@" + channel,
			UserID:             userID,
		},
	})
	if err != nil {
		return gate.StatusUnknown, err
	}

	return mapStatus(member.Status), nil
}

func mapStatus(status string) gate.Status {
	switch status {
	case "creator":
		return gate.StatusCreator
	case "administrator":
		return gate.StatusAdministrator
	case "member":
		return gate.StatusMember
	case "left":
		return gate.StatusLeft
	case "kicked":
		return gate.StatusKicked
	}
	return gate.StatusUnknown
}

// BotStatusIn reports the bot's own membership status in a channel, used
// for the "is the bot admin here" hint after a channel is added.
func (c *Client) BotStatusIn(channel string) (gate.Status, error) {
	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: "@" + channel,
			UserID:             c.api.Self.ID,
		},
	})
	if err != nil {
		return gate.StatusUnknown, err
	}
	return mapStatus(member.Status), nil
}

// SendText implements broadcast.Sender.
func (c *Client) SendText(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := c.api.Send(msg)
	return err
}

// SendMedia implements broadcast.Sender, delivering by transport file id
// so nothing is re-uploaded.
func (c *Client) SendMedia(ctx context.Context, userID int64, fileID, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	video := tgbotapi.NewVideo(userID, tgbotapi.FileID(fileID))
	video.Caption = caption
	_, err := c.api.Send(video)
	return err
}

// CopyMessage re-delivers a source-channel message to a user without
// re-uploading the media.
func (c *Client) CopyMessage(ctx context.Context, targetChat, sourceChat int64, sourceMessageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.api.CopyMessage(tgbotapi.NewCopyMessage(targetChat, sourceChat, sourceMessageID))
	return err
}

func (c *Client) Updates(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return c.api.GetUpdatesChan(u)
}

func (c *Client) Stop() {
	c.api.StopReceivingUpdates()
}
