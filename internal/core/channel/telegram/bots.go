package telegram

import (
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type cachedBot struct {
	bot      *tgbotapi.BotAPI
	lastUsed time.Time
}

// botCache keeps authenticated bot clients keyed by tenant and token so
// every send does not repeat the getMe handshake. Entries idle longer than
// ttl are dropped by Sweep.
type botCache struct {
	mu       sync.Mutex
	bots     map[string]*cachedBot
	ttl      time.Duration
	endpoint string
	timeout  time.Duration
	now      func() time.Time
}

func newBotCache(endpoint string, ttl, timeout time.Duration) *botCache {
	return &botCache{
		bots:     make(map[string]*cachedBot),
		ttl:      ttl,
		endpoint: endpoint,
		timeout:  timeout,
		now:      time.Now,
	}
}

func cacheKey(tenantID, token string) string {
	return tenantID + "|" + token
}

func (c *botCache) get(tenantID, token string) (*tgbotapi.BotAPI, error) {
	key := cacheKey(tenantID, token)

	c.mu.Lock()
	if entry, ok := c.bots[key]; ok && (c.ttl <= 0 || c.now().Sub(entry.lastUsed) < c.ttl) {
		entry.lastUsed = c.now()
		c.mu.Unlock()
		return entry.bot, nil
	}
	c.mu.Unlock()

	// getMe runs outside the lock; two racing callers both build a client
	// and the last one wins, which is harmless.
	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, &http.Client{Timeout: c.timeout})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.bots[key] = &cachedBot{bot: bot, lastUsed: c.now()}
	c.mu.Unlock()
	return bot, nil
}

func (c *botCache) invalidate(tenantID, token string) {
	c.mu.Lock()
	delete(c.bots, cacheKey(tenantID, token))
	c.mu.Unlock()
}

// sweep removes idle entries and returns how many were dropped.
func (c *botCache) sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	now := c.now()
	for key, entry := range c.bots {
		if now.Sub(entry.lastUsed) >= c.ttl {
			delete(c.bots, key)
			removed++
		}
	}
	return removed
}

func (c *botCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bots)
}
