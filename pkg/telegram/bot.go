package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/telegem/telegem/pkg/assembly"
	"github.com/telegem/telegem/pkg/conversation"
	"github.com/telegem/telegem/pkg/gateway"
	"github.com/telegem/telegem/pkg/session"
)

// sender is the slice of *tgbotapi.BotAPI the bot needs; tests substitute a
// recorder.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot turns inbound Telegram updates into gateway calls and renders the
// result back to the chat. It holds no conversation state of its own.
type Bot struct {
	api           sender
	gw            *gateway.Gateway
	sessions      *session.Store
	fetcher       Fetcher
	geminiEnabled bool
}

func NewBot(api sender, gw *gateway.Gateway, sessions *session.Store, fetcher Fetcher, geminiEnabled bool) *Bot {
	return &Bot{
		api:           api,
		gw:            gw,
		sessions:      sessions,
		fetcher:       fetcher,
		geminiEnabled: geminiEnabled,
	}
}

func welcomeText(geminiEnabled bool) string {
	status := "disabled"
	if geminiEnabled {
		status = "active"
	}
	return fmt.Sprintf(
		"Hi! I'm an AI assistant (Gemini: %s).\n\nYou can:\n• ask me anything\n• send a photo or PDF for me to analyze\n• /reset to clear our conversation",
		status,
	)
}

// HandleUpdate processes one update end to end. It never returns an error:
// every failure is rendered to the user or logged here.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		log.Debug().Msg("ignoring update without message")
		return
	}
	chatID := msg.Chat.ID
	user := conversation.UserID(chatID)

	if msg.IsCommand() {
		b.handleCommand(ctx, chatID, user, msg.Command())
		return
	}

	b.sendTyping(chatID)

	asset, ok := b.resolveAttachment(ctx, chatID, msg)
	if !ok {
		return
	}
	caption := captionOf(msg)

	reply, gwErr := b.gw.Handle(ctx, user, asset, caption)
	if gwErr != nil {
		b.reply(chatID, gwErr.UserMessage)
		return
	}
	if reply.Suppressed {
		return
	}
	b.reply(chatID, reply.Text)
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, user conversation.UserID, command string) {
	switch command {
	case "start", "help":
		b.reply(chatID, welcomeText(b.geminiEnabled))
	case "reset":
		b.sessions.Reset(ctx, user)
		b.reply(chatID, "Conversation history cleared.")
	default:
		b.reply(chatID, "Unknown command. Try /help.")
	}
}

// resolveAttachment downloads the update's photo or document, if any. A
// download failure is reported to the user here; the gateway never sees the
// event.
func (b *Bot) resolveAttachment(ctx context.Context, chatID int64, msg *tgbotapi.Message) (*assembly.Asset, bool) {
	ref, found := attachmentRef(msg)
	if !found {
		return nil, true
	}
	data, err := b.fetcher.Fetch(ctx, ref.fileID)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("attachment download failed")
		b.reply(chatID, "I couldn't download that file. Please try sending it again.")
		return nil, false
	}
	return &assembly.Asset{Data: data, MIME: ref.mime, FileName: ref.fileName}, true
}

type fileRef struct {
	fileID   string
	mime     string
	fileName string
}

// attachmentRef picks the attachment out of a message: the
// highest-resolution photo size, or the document with its declared type.
func attachmentRef(msg *tgbotapi.Message) (fileRef, bool) {
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		// Telegram recompresses all photos to JPEG.
		return fileRef{fileID: best.FileID, mime: "image/jpeg"}, true
	}
	if msg.Document != nil {
		return fileRef{
			fileID:   msg.Document.FileID,
			mime:     msg.Document.MimeType,
			fileName: msg.Document.FileName,
		}, true
	}
	return fileRef{}, false
}

func captionOf(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("chat action failed")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("outbound send failed")
	}
}
