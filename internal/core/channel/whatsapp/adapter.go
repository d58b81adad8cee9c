package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// Credential keys read from PlatformConfig.Credentials
const (
	CredAccessToken   = "access_token"
	CredPhoneNumberID = "phone_number_id"
	CredAppSecret     = "app_secret"
)

const signatureHeader = "X-Hub-Signature-256"

// Graph API error codes that do not follow the HTTP status
const (
	codeAccessTokenExpired = 190
	codeRecipientNotOnWA   = 131026
	codeRecipientNotAllow  = 131030
	codeReengagement       = 131047
	codeRateLimitHit       = 130429
	codeSpamRateLimit      = 131048
)

type Config struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// Adapter implements the WhatsApp Cloud API (Official Business API).
// Documentation: https://developers.facebook.com/docs/whatsapp/cloud-api
type Adapter struct {
	baseURL    string
	apiVersion string
	client     *http.Client
}

var (
	_ channel.Adapter              = (*Adapter)(nil)
	_ channel.RequestAuthenticator = (*Adapter)(nil)
)

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		client:     cfg.HTTPClient,
	}
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeWhatsApp
}

// Normalize turns one webhook body into canonical messages and status
// updates. Entries it cannot use (no sender, unknown change field) are
// skipped, never fatal.
func (a *Adapter) Normalize(accountRef string, raw []byte) (channel.Envelope, error) {
	env := channel.Envelope{Platform: channel.TypeWhatsApp, AccountRef: accountRef}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return env, fmt.Errorf("%w: %v", channel.ErrMalformedPayload, err)
	}

	for _, e := range payload.Entry {
		for _, ch := range e.Changes {
			if ch.Field != "" && ch.Field != "messages" {
				continue
			}
			v := ch.Value
			ref := accountRef
			if v.Metadata.PhoneNumberID != "" {
				ref = v.Metadata.PhoneNumberID
			}

			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = strings.TrimSpace(c.Profile.Name)
			}

			for _, m := range v.Messages {
				from := strings.TrimPrefix(strings.TrimSpace(m.From), "+")
				if from == "" {
					continue
				}
				contentType, body, mediaRef := classify(m)
				env.Messages = append(env.Messages, channel.InboundMessage{
					Platform:           channel.TypeWhatsApp,
					AccountRef:         ref,
					ExternalMessageID:  strings.TrimSpace(m.ID),
					ExternalCustomerID: "+" + from,
					DisplayName:        names[from],
					ContactHandle:      "+" + from,
					ContentType:        contentType,
					Body:               body,
					MediaRef:           mediaRef,
					SentAt:             parseUnix(m.Timestamp),
				})
			}

			for _, s := range v.Statuses {
				status := deliveryStatus(s.Status)
				if s.ID == "" || status == models.DeliveryNone {
					continue
				}
				env.Statuses = append(env.Statuses, channel.StatusUpdate{
					Platform:          channel.TypeWhatsApp,
					ExternalMessageID: s.ID,
					Status:            status,
					Recipient:         s.RecipientID,
					OccurredAt:        parseUnix(s.Timestamp),
				})
			}
		}
	}
	return env, nil
}

// classify picks the content type by field presence:
// text > image > video > audio/voice > document > location > contacts.
func classify(m cloudMessage) (models.ContentType, string, string) {
	switch {
	case m.Text != nil:
		return models.ContentText, m.Text.Body, ""
	case m.Button != nil:
		return models.ContentText, m.Button.Text, ""
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return models.ContentText, m.Interactive.ButtonReply.Title, ""
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return models.ContentText, m.Interactive.ListReply.Title, ""
	case m.Image != nil:
		return models.ContentImage, m.Image.Caption, m.Image.ID
	case m.Video != nil:
		return models.ContentVideo, m.Video.Caption, m.Video.ID
	case m.Audio != nil:
		return models.ContentAudio, "", m.Audio.ID
	case m.Voice != nil:
		return models.ContentAudio, "", m.Voice.ID
	case m.Document != nil:
		body := m.Document.Caption
		if body == "" {
			body = m.Document.Filename
		}
		return models.ContentDocument, body, m.Document.ID
	case m.Location != nil:
		body := strings.TrimSpace(strings.Join([]string{m.Location.Name, m.Location.Address}, " "))
		ref := strconv.FormatFloat(m.Location.Latitude, 'f', -1, 64) + "," +
			strconv.FormatFloat(m.Location.Longitude, 'f', -1, 64)
		return models.ContentLocation, body, ref
	case len(m.Contacts) > 0:
		card := m.Contacts[0]
		body := card.Name.FormattedName
		if len(card.Phones) > 0 {
			body = strings.TrimSpace(body + " " + card.Phones[0].Phone)
		}
		return models.ContentContact, body, ""
	}
	return models.ContentUnsupported, "", ""
}

func deliveryStatus(raw string) models.DeliveryStatus {
	switch strings.ToLower(raw) {
	case "sent":
		return models.DeliverySent
	case "delivered":
		return models.DeliveryDelivered
	case "read":
		return models.DeliveryRead
	case "failed":
		return models.DeliveryFailed
	}
	return models.DeliveryNone
}

func parseUnix(ts string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

// Authenticate checks the X-Hub-Signature-256 header when the platform
// config carries an app secret. Configs without a secret accept every
// request.
func (a *Adapter) Authenticate(cfg *models.PlatformConfig, header func(string) string, body []byte) bool {
	secret := cfg.Credential(CredAppSecret)
	if secret == "" {
		return true
	}
	sig := strings.TrimPrefix(header(signatureHeader), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Send posts a text or media message to the customer of conv.
func (a *Adapter) Send(ctx context.Context, cfg *models.PlatformConfig, conv *models.Conversation, msg channel.OutboundMessage) (string, error) {
	token := cfg.Credential(CredAccessToken)
	if token == "" {
		return "", &channel.SendError{Platform: channel.TypeWhatsApp, Kind: channel.ErrAuthExpired, Message: "access_token missing"}
	}
	phoneID := cfg.Credential(CredPhoneNumberID)
	if phoneID == "" {
		phoneID = cfg.AccountRef
	}
	to := cleanPhoneNumber(conv.ExternalCustomerID)
	if to == "" {
		return "", &channel.SendError{Platform: channel.TypeWhatsApp, Kind: channel.ErrInvalidRecipient, Message: "empty recipient"}
	}

	payload, err := buildRequest(to, msg)
	if err != nil {
		return "", &channel.SendError{Platform: channel.TypeWhatsApp, Kind: channel.ErrInvalidRecipient, Message: err.Error()}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", a.baseURL, a.apiVersion, phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", channel.TransportError(channel.TypeWhatsApp, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", channel.TransportError(channel.TypeWhatsApp, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyError(resp.StatusCode, respBody)
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil || len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", &channel.SendError{
			Platform:   channel.TypeWhatsApp,
			StatusCode: resp.StatusCode,
			Kind:       channel.ErrChannelUnavailable,
			Message:    "response carried no message id",
		}
	}
	return out.Messages[0].ID, nil
}

func buildRequest(to string, msg channel.OutboundMessage) (*sendRequest, error) {
	req := &sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
	}
	if !msg.IsMedia() {
		req.Type = string(models.ContentText)
		req.Text = &sendText{Body: msg.Body}
		return req, nil
	}

	m := &sendMedia{Caption: msg.Body}
	if channel.IsURL(msg.MediaRef) {
		m.Link = msg.MediaRef
	} else {
		m.ID = msg.MediaRef
	}
	req.Type = string(msg.ContentType)
	switch msg.ContentType {
	case models.ContentImage:
		req.Image = m
	case models.ContentVideo:
		req.Video = m
	case models.ContentAudio:
		m.Caption = ""
		req.Audio = m
	case models.ContentDocument:
		req.Document = m
	default:
		return nil, fmt.Errorf("content type %q cannot be sent", msg.ContentType)
	}
	return req, nil
}

func classifyError(status int, body []byte) error {
	sendErr := &channel.SendError{
		Platform:   channel.TypeWhatsApp,
		StatusCode: status,
		Kind:       channel.ClassifyStatus(status),
		Message:    strings.TrimSpace(string(body)),
	}

	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Code != 0 {
		sendErr.Message = fmt.Sprintf("code %d: %s", apiErr.Error.Code, apiErr.Error.Message)
		switch apiErr.Error.Code {
		case codeAccessTokenExpired:
			sendErr.Kind = channel.ErrAuthExpired
		case codeRecipientNotOnWA, codeRecipientNotAllow, codeReengagement:
			sendErr.Kind = channel.ErrInvalidRecipient
		case codeRateLimitHit, codeSpamRateLimit:
			sendErr.Kind = channel.ErrChannelUnavailable
		}
	}
	return sendErr
}

// cleanPhoneNumber strips the leading "+" and any JID suffix (@c.us,
// @s.whatsapp.net); the Cloud API wants bare digits.
func cleanPhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	return strings.TrimPrefix(phone, "+")
}
