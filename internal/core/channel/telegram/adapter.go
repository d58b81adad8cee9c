package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// CredBotToken is the credential key holding the bot token.
const CredBotToken = "bot_token"

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type Config struct {
	// Endpoint is the Bot API URL format, "https://api.telegram.org/bot%s/%s".
	Endpoint string
	BotTTL   time.Duration
	// Timeout bounds every HTTP call a bot client makes.
	Timeout time.Duration
}

// Adapter talks to the Telegram Bot API. Bot clients are cached per tenant
// and token; nothing else is kept between calls.
type Adapter struct {
	bots *botCache
}

var (
	_ channel.Adapter              = (*Adapter)(nil)
	_ channel.RequestAuthenticator = (*Adapter)(nil)
)

func New(cfg Config) *Adapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Adapter{bots: newBotCache(cfg.Endpoint, cfg.BotTTL, cfg.Timeout)}
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeTelegram
}

// Normalize parses one Update. Only new messages produce output; edits,
// channel posts and callback queries are acknowledged without effect.
func (a *Adapter) Normalize(accountRef string, raw []byte) (channel.Envelope, error) {
	env := channel.Envelope{Platform: channel.TypeTelegram, AccountRef: accountRef}

	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return env, fmt.Errorf("%w: %v", channel.ErrMalformedPayload, err)
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return env, nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	contentType, body, mediaRef := classify(msg)
	in := channel.InboundMessage{
		Platform:           channel.TypeTelegram,
		AccountRef:         accountRef,
		ExternalMessageID:  messageKey(accountRef, msg.Chat.ID, msg.MessageID),
		ExternalCustomerID: chatID,
		ContentType:        contentType,
		Body:               body,
		MediaRef:           mediaRef,
		SentAt:             time.Now().UTC(),
	}
	if msg.Date > 0 {
		in.SentAt = time.Unix(int64(msg.Date), 0).UTC()
	}
	if msg.From != nil {
		in.DisplayName = displayName(msg.From)
		if msg.From.UserName != "" {
			in.ContactHandle = "@" + msg.From.UserName
		}
	}
	env.Messages = append(env.Messages, in)
	return env, nil
}

// messageKey scopes Telegram message ids, which are only unique per chat,
// to the bot and chat.
func messageKey(accountRef string, chatID int64, messageID int) string {
	return fmt.Sprintf("%s:%d:%d", accountRef, chatID, messageID)
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	return u.UserName
}

func classify(msg *tgbotapi.Message) (models.ContentType, string, string) {
	switch {
	case msg.Text != "":
		return models.ContentText, msg.Text, ""
	case len(msg.Photo) > 0:
		// sizes are ascending, keep the largest
		return models.ContentImage, msg.Caption, msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		return models.ContentVideo, msg.Caption, msg.Video.FileID
	case msg.Audio != nil:
		return models.ContentAudio, msg.Caption, msg.Audio.FileID
	case msg.Voice != nil:
		return models.ContentAudio, msg.Caption, msg.Voice.FileID
	case msg.Document != nil:
		body := msg.Caption
		if body == "" {
			body = msg.Document.FileName
		}
		return models.ContentDocument, body, msg.Document.FileID
	case msg.Location != nil:
		ref := strconv.FormatFloat(msg.Location.Latitude, 'f', -1, 64) + "," +
			strconv.FormatFloat(msg.Location.Longitude, 'f', -1, 64)
		return models.ContentLocation, "", ref
	case msg.Contact != nil:
		body := strings.TrimSpace(msg.Contact.FirstName + " " + msg.Contact.LastName + " " + msg.Contact.PhoneNumber)
		return models.ContentContact, body, ""
	}
	return models.ContentUnsupported, "", ""
}

// Authenticate compares the secret token header with the config's verify
// token. A config without a verify token accepts every request.
func (a *Adapter) Authenticate(cfg *models.PlatformConfig, header func(string) string, _ []byte) bool {
	if cfg.VerifyToken == "" {
		return true
	}
	got := header(secretTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(cfg.VerifyToken)) == 1
}

// Send delivers msg and returns the message key of the sent message.
// tgbotapi has no context support, so the call runs in a goroutine bounded
// by ctx as well as the client timeout.
func (a *Adapter) Send(ctx context.Context, cfg *models.PlatformConfig, conv *models.Conversation, msg channel.OutboundMessage) (string, error) {
	token := cfg.Credential(CredBotToken)
	if token == "" {
		return "", &channel.SendError{Platform: channel.TypeTelegram, Kind: channel.ErrAuthExpired, Message: "bot_token missing"}
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(conv.ExternalCustomerID), 10, 64)
	if err != nil {
		return "", &channel.SendError{Platform: channel.TypeTelegram, Kind: channel.ErrInvalidRecipient, Message: "chat id must be numeric"}
	}
	chattable, err := buildChattable(chatID, msg)
	if err != nil {
		return "", &channel.SendError{Platform: channel.TypeTelegram, Kind: channel.ErrInvalidRecipient, Message: err.Error()}
	}

	if err := ctx.Err(); err != nil {
		return "", channel.TransportError(channel.TypeTelegram, err)
	}

	type result struct {
		sent tgbotapi.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		bot, err := a.bots.get(cfg.TenantID, token)
		if err != nil {
			done <- result{err: err}
			return
		}
		sent, err := bot.Send(chattable)
		done <- result{sent: sent, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", channel.TransportError(channel.TypeTelegram, ctx.Err())
	case res := <-done:
		if res.err != nil {
			sendErr := classifyError(res.err)
			if errors.Is(sendErr, channel.ErrAuthExpired) {
				a.bots.invalidate(cfg.TenantID, token)
			}
			return "", sendErr
		}
		return messageKey(cfg.AccountRef, chatID, res.sent.MessageID), nil
	}
}

func buildChattable(chatID int64, msg channel.OutboundMessage) (tgbotapi.Chattable, error) {
	if !msg.IsMedia() {
		text := tgbotapi.NewMessage(chatID, msg.Body)
		text.ParseMode = msg.ParseMode
		return text, nil
	}

	file := tgbotapi.RequestFileData(tgbotapi.FileID(msg.MediaRef))
	if channel.IsURL(msg.MediaRef) {
		file = tgbotapi.FileURL(msg.MediaRef)
	}
	switch msg.ContentType {
	case models.ContentImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = msg.Body
		photo.ParseMode = msg.ParseMode
		return photo, nil
	case models.ContentVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = msg.Body
		video.ParseMode = msg.ParseMode
		return video, nil
	case models.ContentAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = msg.Body
		audio.ParseMode = msg.ParseMode
		return audio, nil
	case models.ContentDocument:
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = msg.Body
		document.ParseMode = msg.ParseMode
		return document, nil
	}
	return nil, fmt.Errorf("content type %q cannot be sent", msg.ContentType)
}

// classifyError maps Bot API errors to the channel error kinds. Errors
// without an API code are transport failures.
func classifyError(err error) error {
	code, message, ok := apiError(err)
	if !ok {
		return channel.TransportError(channel.TypeTelegram, err)
	}
	kind := channel.ErrChannelUnavailable
	switch {
	case code == http.StatusUnauthorized || code == http.StatusNotFound:
		kind = channel.ErrAuthExpired
	case code == http.StatusBadRequest || code == http.StatusForbidden:
		kind = channel.ErrInvalidRecipient
	}
	return &channel.SendError{Platform: channel.TypeTelegram, StatusCode: code, Kind: kind, Message: message}
}

func apiError(err error) (int, string, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val.Code, val.Message, true
	}
	return 0, "", false
}

// Sweep drops bot clients idle longer than the configured TTL.
func (a *Adapter) Sweep() int {
	return a.bots.sweep()
}

// Invalidate forgets the cached client of a tenant's token, e.g. after the
// token was rotated.
func (a *Adapter) Invalidate(tenantID, token string) {
	a.bots.invalidate(tenantID, token)
}

func (a *Adapter) CachedBots() int {
	return a.bots.size()
}
