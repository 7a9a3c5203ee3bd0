package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"gatebot/internal/broadcast"
	"gatebot/internal/catalog"
	"gatebot/internal/config"
	"gatebot/internal/gate"
	"gatebot/internal/redeem"
	"gatebot/internal/roles"
	"gatebot/internal/stats"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	recheckCallback     = "recheck_membership"
	codesListCallback   = "codes_list"
	watchLatestCallback = "watch_latest"

	adminAddCodeCallback   = "admin_addcode"
	adminAddForceCallback  = "admin_addforce"
	adminBroadcastCallback = "admin_broadcast"
	adminChannelsCallback  = "admin_channels"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.handleHelp(ctx, msg)
	case "admin":
		b.handleAdmin(msg)
	case "addcode":
		b.handleAddCode(msg)
	case "addforce":
		b.handleAddForce(msg)
	case "removeforce":
		b.handleRemoveForce(msg)
	case "channels":
		b.handleChannels(msg)
	case "broadcast":
		b.handleBroadcast(ctx, msg)
	case "adminkey":
		b.handleAdminKey(msg)
	case "setchannel":
		b.handleSetChannel(msg)
	case "syncnow":
		b.handleSyncNow(msg)
	case "autosync":
		b.handleAutoSync(msg)
	case "codes":
		b.handleCodes(ctx, msg)
	case "mycode":
		b.handleMyCode(ctx, msg)
	}
}

// passGate runs the membership gate and, when blocked, renders the
// join-channel prompt. Returns true when the caller may proceed.
func (b *Bot) passGate(ctx context.Context, chatID, userID int64) bool {
	verdict, err := b.gate.Check(ctx, userID)
	if err != nil {
		log.Printf("Gate check failed for user %d: %v", userID, err)
		b.reply(chatID, "⚠️ Something went wrong. Please try again later.")
		return false
	}
	if verdict.Granted {
		return true
	}

	b.sendJoinPrompt(chatID, verdict.Missing)
	return false
}

func (b *Bot) sendJoinPrompt(chatID int64, missing []string) {
	text := "⚠️ <b>Access Restricted</b>\n\n" +
		"You must join the following channels to use this bot:\n\n"
	for _, ch := range missing {
		text += fmt.Sprintf("• @%s\n", ch)
	}
	text += "\n👆 Please join all channels and tap the button below!"

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = joinKeyboard(missing)
	b.send(msg)
}

func joinKeyboard(missing []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, ch := range missing {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("✅ Join @"+ch, "https://t.me/"+ch),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 I Joined - Check Again", recheckCallback),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if !b.passGate(ctx, msg.Chat.ID, msg.From.ID) {
		return
	}

	welcome := tgbotapi.NewMessage(msg.Chat.ID,
		"👋 <b>Welcome!</b>\n\n"+
			"Send me your access code and I'll deliver the matching item.\n\n"+
			"Use /help to see available commands.")
	welcome.ParseMode = tgbotapi.ModeHTML
	welcome.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📺 Latest Items", codesListCallback),
			tgbotapi.NewInlineKeyboardButtonData("▶️ Watch Latest", watchLatestCallback),
		),
	)
	b.send(welcome)
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	if !b.passGate(ctx, msg.Chat.ID, msg.From.ID) {
		return
	}

	text := "📖 <b>Available Commands</b>\n\n" +
		"<b>User Commands:</b>\n" +
		"/start - Start the bot\n" +
		"/help - Show this help message\n" +
		"/codes - View available items\n" +
		"/mycode - Redeem an access code\n"

	if b.roles.IsAuthorized(msg.From.ID) {
		text += "\n<b>Admin Commands:</b>\n" +
			"/admin - Admin panel\n" +
			"/addcode - Add access code\n" +
			"/addforce - Add force join channel\n" +
			"/removeforce - Remove force join channel\n" +
			"/channels - List force join channels\n" +
			"/broadcast - Broadcast message\n" +
			"/setchannel - Set source channel ID\n" +
			"/syncnow - Sync items now\n" +
			"/autosync - Show auto-sync status\n" +
			"/adminkey - Add new admin (owner only)\n"
	}

	b.replyHTML(msg.Chat.ID, text)
}

func (b *Bot) handleAdmin(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	users, _ := b.registry.Count()
	codes, _ := b.catalog.Count()
	channels, _ := b.gate.Channels()
	totals := stats.Current()

	text := "🔧 <b>Admin Panel</b>\n\n" +
		"📊 <b>Statistics:</b>\n" +
		fmt.Sprintf("• Total Users: %d\n", users) +
		fmt.Sprintf("• Total Codes: %d\n", codes) +
		fmt.Sprintf("• Force Channels: %d\n", len(channels)) +
		fmt.Sprintf("• Admins: %d\n", b.roles.AdminCount()) +
		fmt.Sprintf("• Items Ingested: %d\n", totals.ItemsIngested) +
		fmt.Sprintf("• Redemptions: %d granted / %d denied\n", totals.RedeemGranted, totals.RedeemDenied) +
		fmt.Sprintf("• Broadcast: %d sent / %d failed\n", totals.BroadcastSent, totals.BroadcastFailed)

	panel := tgbotapi.NewMessage(msg.Chat.ID, text)
	panel.ParseMode = tgbotapi.ModeHTML
	panel.ReplyMarkup = adminKeyboard()
	b.send(panel)
}

func adminKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add Code", adminAddCodeCallback),
			tgbotapi.NewInlineKeyboardButtonData("📢 Broadcast", adminBroadcastCallback),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔗 Add Channel", adminAddForceCallback),
			tgbotapi.NewInlineKeyboardButtonData("📋 View Channels", adminChannelsCallback),
		),
	)
}

func (b *Bot) handleAddCode(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		b.reply(msg.Chat.ID, "⚠️ Usage: /addcode <CODE>\n\nExample: /addcode MYCODE123")
		return
	}

	err := b.catalog.Put(code, catalog.ContentRef{}, "")
	switch {
	case errors.Is(err, catalog.ErrCodeExists):
		b.replyHTML(msg.Chat.ID, fmt.Sprintf("⚠️ Code <code>%s</code> already exists!", code))
	case err != nil:
		log.Printf("Error adding code %q: %v", code, err)
		b.reply(msg.Chat.ID, "❌ Error saving code. Please try again.")
	default:
		b.replyHTML(msg.Chat.ID, fmt.Sprintf("✅ Code <code>%s</code> added successfully!", code))
	}
}

func (b *Bot) handleAddForce(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	channel := strings.TrimSpace(msg.CommandArguments())
	if channel == "" {
		b.reply(msg.Chat.ID, "⚠️ Usage: /addforce @channel\n\nExample: /addforce @mychannel")
		return
	}

	err := b.gate.AddChannel(channel, msg.From.ID)
	switch {
	case errors.Is(err, gate.ErrChannelExists):
		b.reply(msg.Chat.ID, fmt.Sprintf("⚠️ Channel %s already exists!", channel))
		return
	case err != nil:
		log.Printf("Error adding force channel %q: %v", channel, err)
		b.reply(msg.Chat.ID, "❌ Error saving channel. Please try again.")
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("✅ Channel %s added to force join!", channel))

	// Best-effort hint: the gate only works if the bot can see the member list
	status, err := b.client.BotStatusIn(gate.NormalizeHandle(channel))
	switch {
	case err != nil:
		b.reply(msg.Chat.ID, fmt.Sprintf("⚠️ Could not verify bot status: %v", err))
	case status == gate.StatusAdministrator:
		b.reply(msg.Chat.ID, "✅ Bot is admin in this channel!")
	default:
		b.reply(msg.Chat.ID, "⚠️ Warning: Bot is not admin in this channel. Membership checks may fail until it is.")
	}
}

func (b *Bot) handleRemoveForce(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	channel := strings.TrimSpace(msg.CommandArguments())
	if channel == "" {
		b.reply(msg.Chat.ID, "⚠️ Usage: /removeforce @channel")
		return
	}

	err := b.gate.RemoveChannel(channel)
	switch {
	case errors.Is(err, gate.ErrChannelNotFound):
		b.reply(msg.Chat.ID, fmt.Sprintf("⚠️ Channel %s not found!", channel))
	case err != nil:
		log.Printf("Error removing force channel %q: %v", channel, err)
		b.reply(msg.Chat.ID, "❌ Error removing channel. Please try again.")
	default:
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Channel %s removed from force join!", channel))
	}
}

func (b *Bot) handleChannels(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	channels, err := b.gate.Channels()
	if err != nil {
		log.Printf("Error listing force channels: %v", err)
		b.reply(msg.Chat.ID, "❌ Error loading channels.")
		return
	}

	if len(channels) == 0 {
		b.replyHTML(msg.Chat.ID, "📋 <b>Force Join Channels</b>\n\nNo channels added yet.")
		return
	}

	text := "📋 <b>Force Join Channels</b>\n\n"
	for i, ch := range channels {
		text += fmt.Sprintf("%d. @%s\n", i+1, ch.Handle)
	}
	b.replyHTML(msg.Chat.ID, text)
}

func (b *Bot) handleBroadcast(ctx context.Context, msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		b.reply(msg.Chat.ID, "⚠️ Usage: /broadcast <MESSAGE>\n\nExample: /broadcast Hello everyone!")
		return
	}

	recipients, err := b.registry.All()
	if err != nil {
		log.Printf("Error loading broadcast recipients: %v", err)
		b.reply(msg.Chat.ID, "❌ Error loading recipients.")
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("📢 Broadcasting to %d users...", len(recipients)))

	report := b.dispatcher.Broadcast(ctx, broadcast.Payload{Text: text}, recipients)

	b.replyHTML(msg.Chat.ID, fmt.Sprintf(
		"✅ <b>Broadcast Complete</b>\n\n• Sent: %d\n• Failed: %d\n• Took: %s",
		report.Sent, report.Failed, report.Elapsed.Round(time.Second)))
}

func (b *Bot) handleAdminKey(msg *tgbotapi.Message) {
	if !b.roles.IsOwner(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		b.reply(msg.Chat.ID, "⚠️ Usage: /adminkey <KEY> <USER_ID>\n\nExample: /adminkey secure_admin_key 123456789")
		return
	}

	target, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, "⚠️ Invalid user ID!")
		return
	}

	if err := b.roles.Promote(msg.From.ID, args[0], target); err != nil {
		if errors.Is(err, roles.ErrDenied) {
			// Requester is the owner, so the denial can only be the key
			b.reply(msg.Chat.ID, "❌ Invalid admin key!")
			return
		}
		log.Printf("Error promoting user %d: %v", target, err)
		b.reply(msg.Chat.ID, "❌ Error saving admin. Please try again.")
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("✅ User %d added as admin!", target))
}

func (b *Bot) handleSetChannel(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		b.reply(msg.Chat.ID, "⚠️ Usage: /setchannel <CHANNEL_ID>\n\nExample: /setchannel -1001234567890")
		return
	}

	channelID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, "⚠️ Invalid channel ID!")
		return
	}

	b.ingest.SetSource(channelID)
	config.Conf.SourceChannel = channelID
	if err := config.SaveConfig(b.configPath); err != nil {
		log.Printf("Error persisting source channel: %v", err)
	}

	b.replyHTML(msg.Chat.ID, fmt.Sprintf(
		"✅ <b>Source Channel Set!</b>\n\nChannel ID: <code>%d</code>\n\n"+
			"New media posted there will be assigned serial numbers automatically.", channelID))
}

func (b *Bot) handleSyncNow(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	if b.ingest.Source() == 0 {
		b.reply(msg.Chat.ID, "⚠️ No source channel set!\n\nUse /setchannel <CHANNEL_ID> first.")
		return
	}

	count, err := b.catalog.Count()
	if err != nil {
		log.Printf("Error counting catalog: %v", err)
		b.reply(msg.Chat.ID, "❌ Error reading catalog.")
		return
	}

	// The Bot API exposes no channel history, so there is nothing to walk
	// here; new posts are picked up live as channel-post updates.
	b.replyHTML(msg.Chat.ID, fmt.Sprintf(
		"✅ <b>Sync Complete!</b>\n\n"+
			"Items in catalog: %d\n\n"+
			"New media posted to the source channel is registered automatically "+
			"as it arrives. The bot must be a member of the channel to see posts.", count))
}

func (b *Bot) handleAutoSync(msg *tgbotapi.Message) {
	if !b.roles.IsAuthorized(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not authorized to use this command.")
		return
	}

	source := b.ingest.Source()
	if source == 0 {
		b.replyHTML(msg.Chat.ID,
			"⚠️ <b>Auto-Sync Inactive</b>\n\n"+
				"No source channel set. Use /setchannel <CHANNEL_ID> to enable it.")
		return
	}

	b.replyHTML(msg.Chat.ID, fmt.Sprintf(
		"🔄 <b>Auto-Sync Active!</b>\n\n"+
			"Source Channel: <code>%d</code>\n\n"+
			"Every video posted there gets a serial number automatically. "+
			"No manual steps needed!", source))
}

func (b *Bot) handleCodes(ctx context.Context, msg *tgbotapi.Message) {
	if !b.passGate(ctx, msg.Chat.ID, msg.From.ID) {
		return
	}

	entries, err := b.catalog.List()
	if err != nil {
		log.Printf("Error listing catalog: %v", err)
		b.reply(msg.Chat.ID, "❌ Error loading items.")
		return
	}

	if len(entries) == 0 {
		b.reply(msg.Chat.ID, "📭 No items available yet!")
		return
	}

	text := "📺 <b>Available Items</b>\n\n"
	for _, e := range entries {
		caption := e.Caption
		if caption == "" {
			caption = "No caption"
		}
		text += fmt.Sprintf("• #%s: %s\n", e.Code, caption)
	}
	b.replyHTML(msg.Chat.ID, text)
}

func (b *Bot) handleMyCode(ctx context.Context, msg *tgbotapi.Message) {
	if !b.passGate(ctx, msg.Chat.ID, msg.From.ID) {
		return
	}

	b.replyHTML(msg.Chat.ID, "🔐 <b>Code Access</b>\n\nPlease send your access code.")
}

// handleRedemption treats any free text as a submitted code.
func (b *Bot) handleRedemption(ctx context.Context, msg *tgbotapi.Message) {
	result, err := b.flow.Redeem(ctx, msg.From.ID, msg.Text)
	if err != nil {
		log.Printf("Redemption failed for user %d: %v", msg.From.ID, err)
		b.reply(msg.Chat.ID, "⚠️ Something went wrong. Please try again later.")
		return
	}

	switch result.Status {
	case redeem.StatusBlocked:
		b.sendJoinPrompt(msg.Chat.ID, result.Missing)

	case redeem.StatusInvalidCode:
		b.replyHTML(msg.Chat.ID,
			"❌ <b>Invalid Code</b>\n\nThe code you entered is not valid. Please check and try again.")

	case redeem.StatusGranted:
		b.deliver(ctx, msg.Chat.ID, result.Entry)
	}
}

// deliver forwards the resolved content to the user, preferring a copy of
// the original source message over re-sending by file id.
func (b *Bot) deliver(ctx context.Context, chatID int64, entry *catalog.Entry) {
	ref := entry.Ref()

	switch {
	case ref.SourceMessage != 0:
		if err := b.client.CopyMessage(ctx, chatID, ref.SourceChat, ref.SourceMessage); err != nil {
			log.Printf("Error copying message %d to %d: %v", ref.SourceMessage, chatID, err)
			b.reply(chatID, "❌ Error sending your item. Please try again later.")
		}

	case ref.FileID != "":
		if err := b.client.SendMedia(ctx, chatID, ref.FileID, entry.Caption); err != nil {
			log.Printf("Error sending media to %d: %v", chatID, err)
			b.reply(chatID, "❌ Error sending your item. Please try again later.")
		}

	default:
		// Pre-declared code with no content attached yet
		b.replyHTML(chatID, "✅ <b>Access Granted!</b>\n\nYour code is valid, but its content is not available yet.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.answerCallback(query.ID)

	if query.From == nil || query.Message == nil {
		return
	}

	switch query.Data {
	case recheckCallback:
		b.recheckMembership(ctx, query)
	case codesListCallback:
		b.callbackCodesList(ctx, query)
	case watchLatestCallback:
		b.callbackWatchLatest(ctx, query)
	case adminAddCodeCallback:
		b.adminHint(query, "➕ <b>Add Code</b>\n\nUse /addcode <CODE> to add a new access code.")
	case adminAddForceCallback:
		b.adminHint(query, "🔗 <b>Add Channel</b>\n\nUse /addforce @channel to add a force join channel.")
	case adminBroadcastCallback:
		b.adminHint(query, "📢 <b>Broadcast</b>\n\nUse /broadcast <MESSAGE> to message all users.")
	case adminChannelsCallback:
		b.callbackChannels(query)
	}
}

func (b *Bot) recheckMembership(ctx context.Context, query *tgbotapi.CallbackQuery) {
	verdict, err := b.gate.Check(ctx, query.From.ID)
	if err != nil {
		log.Printf("Gate recheck failed for user %d: %v", query.From.ID, err)
		return
	}

	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	if verdict.Granted {
		edit := tgbotapi.NewEditMessageText(chatID, messageID,
			"✅ <b>Access Granted!</b>\n\nWelcome! Use /help to see available commands.")
		edit.ParseMode = tgbotapi.ModeHTML
		b.send(edit)
		return
	}

	text := "⚠️ <b>Access Restricted</b>\n\nStill missing:\n\n"
	for _, ch := range verdict.Missing {
		text += fmt.Sprintf("• @%s\n", ch)
	}
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, joinKeyboard(verdict.Missing))
	edit.ParseMode = tgbotapi.ModeHTML
	b.send(edit)
}

func (b *Bot) callbackCodesList(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	if !b.passGate(ctx, chatID, query.From.ID) {
		return
	}

	entries, err := b.catalog.List()
	if err != nil {
		log.Printf("Error listing catalog: %v", err)
		b.reply(chatID, "❌ Error loading items.")
		return
	}

	if len(entries) == 0 {
		b.reply(chatID, "📭 No items available yet!")
		return
	}

	text := "📺 <b>Available Items</b>\n\nSend a code to receive the item:\n\n"
	for _, e := range entries {
		caption := e.Caption
		if caption == "" {
			caption = "No caption"
		}
		text += fmt.Sprintf("• #%s: %s\n", e.Code, caption)
	}
	b.replyHTML(chatID, text)
}

// callbackWatchLatest delivers the newest catalog entry.
func (b *Bot) callbackWatchLatest(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	if !b.passGate(ctx, chatID, query.From.ID) {
		return
	}

	entries, err := b.catalog.List()
	if err != nil {
		log.Printf("Error listing catalog: %v", err)
		b.reply(chatID, "❌ Error loading items.")
		return
	}

	if len(entries) == 0 {
		b.reply(chatID, "📭 No items available yet!")
		return
	}

	// the highest serial is the most recently ingested item
	latest := entries[0]
	for _, e := range entries {
		if e.Serial > latest.Serial {
			latest = e
		}
	}
	b.deliver(ctx, chatID, &latest)
}

func (b *Bot) adminHint(query *tgbotapi.CallbackQuery, text string) {
	if !b.roles.IsAuthorized(query.From.ID) {
		return
	}
	b.replyHTML(query.Message.Chat.ID, text)
}

func (b *Bot) callbackChannels(query *tgbotapi.CallbackQuery) {
	if !b.roles.IsAuthorized(query.From.ID) {
		return
	}

	channels, err := b.gate.Channels()
	if err != nil {
		log.Printf("Error listing force channels: %v", err)
		b.reply(query.Message.Chat.ID, "❌ Error loading channels.")
		return
	}

	if len(channels) == 0 {
		b.replyHTML(query.Message.Chat.ID, "📋 <b>Force Join Channels</b>\n\nNo channels added yet.")
		return
	}

	text := "📋 <b>Force Join Channels</b>\n\n"
	for i, ch := range channels {
		text += fmt.Sprintf("%d. @%s\n", i+1, ch.Handle)
	}
	b.replyHTML(query.Message.Chat.ID, text)
}
