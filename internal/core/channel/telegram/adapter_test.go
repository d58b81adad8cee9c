package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// fakeBotAPI answers getMe and the send methods the adapter uses.
type fakeBotAPI struct {
	mu       sync.Mutex
	getMe    int32
	lastForm map[string]string
	method   string
	fail     string
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	method := parts[len(parts)-1]
	_ = r.ParseForm()

	w.Header().Set("Content-Type", "application/json")
	if method == "getMe" {
		atomic.AddInt32(&f.getMe, 1)
		if strings.Contains(r.URL.Path, "revoked") {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Shop","username":"shop_bot"}}`))
		return
	}

	f.mu.Lock()
	f.method = method
	f.lastForm = map[string]string{}
	for k := range r.Form {
		f.lastForm[k] = r.Form.Get(k)
	}
	fail := f.fail
	f.mu.Unlock()

	if fail != "" {
		_, _ = w.Write([]byte(fail))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"date":1700000000,"chat":{"id":12345,"type":"private"}}}`))
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeBotAPI) {
	t.Helper()
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	return New(Config{Endpoint: srv.URL + "/bot%s/%s", BotTTL: time.Minute, Timeout: 5 * time.Second}), fake
}

func botConfig(token string) *models.PlatformConfig {
	return &models.PlatformConfig{
		TenantID:    "T1",
		PlatformID:  "telegram",
		AccountRef:  "42",
		Credentials: datatypes.JSONMap{CredBotToken: token},
	}
}

func TestNormalizeTextMessage(t *testing.T) {
	t.Parallel()

	raw := `{"update_id":1,"message":{"message_id":9,"date":1700000000,
		"from":{"id":12345,"is_bot":false,"first_name":"Ali","last_name":"Veli","username":"aliv"},
		"chat":{"id":12345,"type":"private"},"text":"Kargo nerede?"}}`

	env, err := New(Config{}).Normalize("42", []byte(raw))
	require.NoError(t, err)
	require.Len(t, env.Messages, 1)

	m := env.Messages[0]
	assert.Equal(t, channel.TypeTelegram, m.Platform)
	assert.Equal(t, "42:12345:9", m.ExternalMessageID)
	assert.Equal(t, "12345", m.ExternalCustomerID)
	assert.Equal(t, "Ali Veli", m.DisplayName)
	assert.Equal(t, "@aliv", m.ContactHandle)
	assert.Equal(t, models.ContentText, m.ContentType)
	assert.Equal(t, "Kargo nerede?", m.Body)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), m.SentAt)
}

func TestNormalizeMedia(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	cases := []struct {
		name string
		raw  string
		want models.ContentType
		ref  string
	}{
		{"photo keeps largest", `{"message":{"message_id":1,"chat":{"id":1},"photo":[{"file_id":"small"},{"file_id":"big"}],"caption":"c"}}`, models.ContentImage, "big"},
		{"voice", `{"message":{"message_id":2,"chat":{"id":1},"voice":{"file_id":"v1","duration":3}}}`, models.ContentAudio, "v1"},
		{"document", `{"message":{"message_id":3,"chat":{"id":1},"document":{"file_id":"d1","file_name":"fatura.pdf"}}}`, models.ContentDocument, "d1"},
		{"location", `{"message":{"message_id":4,"chat":{"id":1},"location":{"latitude":41.5,"longitude":29}}}`, models.ContentLocation, "41.5,29"},
		{"sticker", `{"message":{"message_id":5,"chat":{"id":1},"sticker":{"file_id":"s"}}}`, models.ContentUnsupported, ""},
	}
	for _, tc := range cases {
		env, err := a.Normalize("42", []byte(tc.raw))
		require.NoError(t, err, tc.name)
		require.Len(t, env.Messages, 1, tc.name)
		assert.Equal(t, tc.want, env.Messages[0].ContentType, tc.name)
		assert.Equal(t, tc.ref, env.Messages[0].MediaRef, tc.name)
	}
}

func TestNormalizeIgnoresEditsAndRejectsGarbage(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	env, err := a.Normalize("42", []byte(`{"update_id":2,"edited_message":{"message_id":9,"chat":{"id":1},"text":"x"}}`))
	require.NoError(t, err)
	assert.True(t, env.IsEmpty())

	_, err = a.Normalize("42", []byte(`not json`))
	assert.ErrorIs(t, err, channel.ErrMalformedPayload)
}

func TestAuthenticateSecretToken(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	cfg := &models.PlatformConfig{VerifyToken: "hook-secret"}
	assert.True(t, a.Authenticate(cfg, func(string) string { return "hook-secret" }, nil))
	assert.False(t, a.Authenticate(cfg, func(string) string { return "nope" }, nil))
	assert.True(t, a.Authenticate(&models.PlatformConfig{}, func(string) string { return "" }, nil))
}

func TestSendTextCachesBot(t *testing.T) {
	t.Parallel()

	a, fake := newTestAdapter(t)
	conv := &models.Conversation{ExternalCustomerID: "12345"}

	for i := 0; i < 3; i++ {
		id, err := a.Send(context.Background(), botConfig("tok"), conv, channel.OutboundMessage{
			ContentType: models.ContentText,
			Body:        "*Merhaba*",
			ParseMode:   "MarkdownV2",
		})
		require.NoError(t, err)
		assert.Equal(t, "42:12345:77", id)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.getMe))
	assert.Equal(t, 1, a.CachedBots())
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "sendMessage", fake.method)
	assert.Equal(t, "12345", fake.lastForm["chat_id"])
	assert.Equal(t, "*Merhaba*", fake.lastForm["text"])
	assert.Equal(t, "MarkdownV2", fake.lastForm["parse_mode"])
}

func TestSendPhotoByURL(t *testing.T) {
	t.Parallel()

	a, fake := newTestAdapter(t)
	_, err := a.Send(context.Background(), botConfig("tok"), &models.Conversation{ExternalCustomerID: "12345"}, channel.OutboundMessage{
		ContentType: models.ContentImage,
		Body:        "katalog",
		MediaRef:    "https://cdn.example.com/k.png",
	})
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "sendPhoto", fake.method)
	assert.Equal(t, "https://cdn.example.com/k.png", fake.lastForm["photo"])
	assert.Equal(t, "katalog", fake.lastForm["caption"])
}

func TestSendErrorKinds(t *testing.T) {
	t.Parallel()

	a, fake := newTestAdapter(t)
	conv := &models.Conversation{ExternalCustomerID: "12345"}

	fake.mu.Lock()
	fake.fail = `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	fake.mu.Unlock()
	_, err := a.Send(context.Background(), botConfig("tok"), conv, channel.OutboundMessage{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrInvalidRecipient)

	fake.mu.Lock()
	fake.fail = `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`
	fake.mu.Unlock()
	_, err = a.Send(context.Background(), botConfig("tok"), conv, channel.OutboundMessage{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrChannelUnavailable)

	_, err = a.Send(context.Background(), botConfig("tok"), &models.Conversation{ExternalCustomerID: "@someone"}, channel.OutboundMessage{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrInvalidRecipient)
}

func TestSendRevokedTokenIsAuthExpired(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	_, err := a.Send(context.Background(), botConfig("revoked"), &models.Conversation{ExternalCustomerID: "1"}, channel.OutboundMessage{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrAuthExpired)
	assert.Equal(t, 0, a.CachedBots())
}

func TestSendHonoursContext(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Send(ctx, botConfig("tok"), &models.Conversation{ExternalCustomerID: "1"}, channel.OutboundMessage{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrChannelUnavailable)
}

func TestBotCacheSweep(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	_, err := a.Send(context.Background(), botConfig("tok"), &models.Conversation{ExternalCustomerID: "1"}, channel.OutboundMessage{Body: "x"})
	require.NoError(t, err)
	require.Equal(t, 1, a.CachedBots())

	now := time.Now()
	a.bots.mu.Lock()
	a.bots.now = func() time.Time { return now.Add(2 * time.Minute) }
	a.bots.mu.Unlock()

	assert.Equal(t, 1, a.Sweep())
	assert.Equal(t, 0, a.CachedBots())

	a.Invalidate("T1", "tok")
	assert.Equal(t, 0, a.CachedBots())
}
