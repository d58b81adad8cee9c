package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

const textWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "905550000000", "phone_number_id": "PN1"},
        "contacts": [{"wa_id": "905551234567", "profile": {"name": "Ayse"}}],
        "messages": [
          {"from": "905551234567", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "merhaba, kargo durumu?"}},
          {"from": "905551234567", "id": "wamid.2", "timestamp": "1700000001", "type": "image", "image": {"id": "MEDIA1", "caption": "fatura"}},
          {"from": "905551234567", "id": "wamid.3", "timestamp": "1700000002", "type": "voice", "voice": {"id": "MEDIA2"}},
          {"from": "905551234567", "id": "wamid.4", "timestamp": "1700000003", "type": "sticker", "sticker": {"id": "S"}},
          {"id": "wamid.5", "type": "text", "text": {"body": "no sender"}}
        ]
      }
    }]
  }]
}`

func TestNormalizeMessages(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	env, err := a.Normalize("PN1", []byte(textWebhook))
	require.NoError(t, err)
	require.Len(t, env.Messages, 4)
	assert.Empty(t, env.Statuses)

	first := env.Messages[0]
	assert.Equal(t, channel.TypeWhatsApp, first.Platform)
	assert.Equal(t, "PN1", first.AccountRef)
	assert.Equal(t, "wamid.1", first.ExternalMessageID)
	assert.Equal(t, "+905551234567", first.ExternalCustomerID)
	assert.Equal(t, "Ayse", first.DisplayName)
	assert.Equal(t, models.ContentText, first.ContentType)
	assert.Equal(t, "merhaba, kargo durumu?", first.Body)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.SentAt)

	assert.Equal(t, models.ContentImage, env.Messages[1].ContentType)
	assert.Equal(t, "MEDIA1", env.Messages[1].MediaRef)
	assert.Equal(t, "fatura", env.Messages[1].Body)

	assert.Equal(t, models.ContentAudio, env.Messages[2].ContentType)
	assert.Equal(t, models.ContentUnsupported, env.Messages[3].ContentType)
}

func TestNormalizePrecedence(t *testing.T) {
	t.Parallel()

	m := cloudMessage{
		Text:     &textBody{Body: "hi"},
		Image:    &media{ID: "I"},
		Location: &location{Latitude: 1, Longitude: 2},
	}
	ct, body, _ := classify(m)
	assert.Equal(t, models.ContentText, ct)
	assert.Equal(t, "hi", body)

	ct, _, ref := classify(cloudMessage{Video: &media{ID: "V"}, Document: &media{ID: "D"}})
	assert.Equal(t, models.ContentVideo, ct)
	assert.Equal(t, "V", ref)

	ct, _, ref = classify(cloudMessage{Location: &location{Latitude: 41.01, Longitude: 28.97, Name: "Depo"}})
	assert.Equal(t, models.ContentLocation, ct)
	assert.Equal(t, "41.01,28.97", ref)
}

func TestNormalizeStatuses(t *testing.T) {
	t.Parallel()

	body := `{"entry":[{"changes":[{"field":"messages","value":{"statuses":[
		{"id":"wamid.out","status":"delivered","timestamp":"1700000100","recipient_id":"905551234567"},
		{"id":"wamid.out","status":"deleted"}
	]}}]}]}`
	env, err := New(Config{}).Normalize("PN1", []byte(body))
	require.NoError(t, err)
	assert.Empty(t, env.Messages)
	require.Len(t, env.Statuses, 1)
	assert.Equal(t, models.DeliveryDelivered, env.Statuses[0].Status)
	assert.Equal(t, "wamid.out", env.Statuses[0].ExternalMessageID)
}

func TestNormalizeMalformed(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	_, err := a.Normalize("PN1", []byte(`{"entry": [`))
	assert.ErrorIs(t, err, channel.ErrMalformedPayload)

	env, err := a.Normalize("PN1", []byte(`{"entry":[{"changes":[{"field":"account_update","value":{}}]}]}`))
	require.NoError(t, err)
	assert.True(t, env.IsEmpty())
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	body := []byte(`{"object":"whatsapp_business_account"}`)
	cfg := &models.PlatformConfig{Credentials: datatypes.JSONMap{CredAppSecret: "s3cret"}}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	header := func(v string) func(string) string {
		return func(string) string { return v }
	}
	assert.True(t, a.Authenticate(cfg, header(good), body))
	assert.False(t, a.Authenticate(cfg, header("sha256=00ff"), body))
	assert.False(t, a.Authenticate(cfg, header(""), body))
	assert.True(t, a.Authenticate(&models.PlatformConfig{}, header(""), body))
}

func testConfig() *models.PlatformConfig {
	return &models.PlatformConfig{
		TenantID:    "T1",
		PlatformID:  "whatsapp",
		AccountRef:  "PN1",
		Credentials: datatypes.JSONMap{CredAccessToken: "tok"},
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v18.0/PN1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out1"}]}`))
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	conv := &models.Conversation{ExternalCustomerID: "+905551234567"}
	id, err := a.Send(context.Background(), testConfig(), conv, channel.OutboundMessage{
		ContentType: models.ContentText,
		Body:        "Kargonuz yolda",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.out1", id)
	assert.Equal(t, "905551234567", got.To)
	assert.Equal(t, "text", got.Type)
	require.NotNil(t, got.Text)
	assert.Equal(t, "Kargonuz yolda", got.Text.Body)
}

func TestSendMediaByLink(t *testing.T) {
	t.Parallel()

	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.img"}]}`))
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	_, err := a.Send(context.Background(), testConfig(), &models.Conversation{ExternalCustomerID: "+1555"}, channel.OutboundMessage{
		ContentType: models.ContentImage,
		Body:        "katalog",
		MediaRef:    "https://cdn.example.com/k.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "image", got.Type)
	require.NotNil(t, got.Image)
	assert.Equal(t, "https://cdn.example.com/k.png", got.Image.Link)
	assert.Equal(t, "katalog", got.Image.Caption)
	assert.Empty(t, got.Image.ID)
}

func TestSendErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"expired token", http.StatusUnauthorized, `{"error":{"message":"Session has expired","code":190}}`, channel.ErrAuthExpired},
		{"not on whatsapp", http.StatusBadRequest, `{"error":{"message":"Recipient not on WhatsApp","code":131026}}`, channel.ErrInvalidRecipient},
		{"rate limited", http.StatusBadRequest, `{"error":{"message":"Rate limit hit","code":130429}}`, channel.ErrChannelUnavailable},
		{"server error", http.StatusBadGateway, `bad gateway`, channel.ErrChannelUnavailable},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), testConfig(),
				&models.Conversation{ExternalCustomerID: "+1555"}, channel.OutboundMessage{Body: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var sendErr *channel.SendError
			require.True(t, errors.As(err, &sendErr))
			assert.Equal(t, tc.status, sendErr.StatusCode)
		})
	}
}

func TestSendTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{BaseURL: srv.URL}).Send(ctx, testConfig(),
		&models.Conversation{ExternalCustomerID: "+1555"}, channel.OutboundMessage{Body: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrChannelUnavailable)
	assert.Contains(t, err.Error(), "timeout")
}

func TestSendWithoutTokenIsAuthExpired(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Send(context.Background(), &models.PlatformConfig{AccountRef: "PN1"},
		&models.Conversation{ExternalCustomerID: "+1555"}, channel.OutboundMessage{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrAuthExpired)
}
