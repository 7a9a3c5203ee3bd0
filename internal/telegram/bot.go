package telegram

import (
	"context"
	"fmt"
	"log"

	"gatebot/internal/broadcast"
	"gatebot/internal/catalog"
	"gatebot/internal/gate"
	"gatebot/internal/ingest"
	"gatebot/internal/redeem"
	"gatebot/internal/registry"
	"gatebot/internal/roles"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot wires the engine to the inbound update stream and the command
// surface. Each update is handled on its own goroutine; the stores
// serialize whatever needs serializing.
type Bot struct {
	client     *Client
	registry   *registry.Registry
	roles      *roles.Store
	gate       *gate.Gate
	catalog    *catalog.Store
	ingest     *ingest.Sync
	flow       *redeem.Flow
	dispatcher *broadcast.Dispatcher
	configPath string
}

func NewBot(
	client *Client,
	reg *registry.Registry,
	rs *roles.Store,
	g *gate.Gate,
	cat *catalog.Store,
	ing *ingest.Sync,
	flow *redeem.Flow,
	dispatcher *broadcast.Dispatcher,
	configPath string,
) *Bot {
	return &Bot{
		client:     client,
		registry:   reg,
		roles:      rs,
		gate:       g,
		catalog:    cat,
		ingest:     ing,
		flow:       flow,
		dispatcher: dispatcher,
		configPath: configPath,
	}
}

func (b *Bot) Run(ctx context.Context, timeout int) {
	updates := b.client.Updates(timeout)

	log.Println("Bot is running...")

	for {
		select {
		case <-ctx.Done():
			b.client.Stop()
			log.Println("Bot stopped")
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.ChannelPost != nil:
		b.handleChannelPost(update.ChannelPost)

	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)

	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.Chat.IsPrivate() {
		return
	}

	if err := b.registry.Touch(msg.From.ID, msg.From.UserName, msg.From.FirstName); err != nil {
		log.Printf("Error saving user %d: %v", msg.From.ID, err)
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if media, ok := extractMedia(msg); ok {
		b.handleAdminUpload(msg, media)
		return
	}

	if msg.Text != "" {
		b.handleRedemption(ctx, msg)
	}
}

// handleAdminUpload mints a serial for media an admin sends directly in
// private chat. Media from anyone else is ignored.
func (b *Bot) handleAdminUpload(msg *tgbotapi.Message, media ingest.Media) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		return
	}

	outcome, err := b.ingest.OnAdminMedia(media)
	if err != nil {
		log.Printf("Error saving upload from admin %d: %v", msg.From.ID, err)
		b.reply(msg.Chat.ID, "❌ Failed to save the video. Please try again.")
		return
	}

	switch outcome.Status {
	case ingest.StatusMinted:
		log.Printf("Admin %d uploaded message %d as serial %d", msg.From.ID, msg.MessageID, outcome.Serial)
		b.replyHTML(msg.Chat.ID, fmt.Sprintf(
			"✅ <b>Video Saved!</b>\n\n🔢 Serial Number: <code>%d</code>\n\nUsers can now access it by sending <code>%d</code>.",
			outcome.Serial, outcome.Serial))
	case ingest.StatusAttached:
		log.Printf("Admin %d uploaded message %d into code %q", msg.From.ID, msg.MessageID, outcome.Code)
		b.replyHTML(msg.Chat.ID, fmt.Sprintf(
			"✅ <b>Video Saved!</b>\n\n🏷 Attached to code: <code>%s</code>", outcome.Code))
	case ingest.StatusDuplicate:
		b.replyHTML(msg.Chat.ID, "⚠️ This video was already saved.")
	}
}

// handleChannelPost feeds source-channel media into ingestion. Posts from
// any other channel fall out as a silent no-op inside the sync.
func (b *Bot) handleChannelPost(post *tgbotapi.Message) {
	media, ok := extractMedia(post)
	if !ok {
		return
	}

	outcome, err := b.ingest.OnIncomingMedia(media)
	if err != nil {
		log.Printf("Error ingesting message %d from chat %d: %v", post.MessageID, post.Chat.ID, err)
		return
	}

	switch outcome.Status {
	case ingest.StatusMinted:
		log.Printf("Ingested message %d from chat %d as serial %d", post.MessageID, post.Chat.ID, outcome.Serial)
	case ingest.StatusAttached:
		log.Printf("Ingested message %d from chat %d into code %q", post.MessageID, post.Chat.ID, outcome.Code)
	}
}

// extractMedia pulls a content reference out of a message: videos, video
// notes, and video documents, same media classes the bot redeems.
func extractMedia(msg *tgbotapi.Message) (ingest.Media, bool) {
	m := ingest.Media{
		Chat:      msg.Chat.ID,
		MessageID: msg.MessageID,
		Caption:   msg.Caption,
	}

	switch {
	case msg.Video != nil:
		m.FileID = msg.Video.FileID
	case msg.VideoNote != nil:
		m.FileID = msg.VideoNote.FileID
	case msg.Document != nil && isVideoDocument(msg.Document):
		m.FileID = msg.Document.FileID
	default:
		return ingest.Media{}, false
	}

	return m, true
}

func isVideoDocument(doc *tgbotapi.Document) bool {
	return len(doc.MimeType) >= 5 && doc.MimeType[:5] == "video"
}
