package ratelimit

import (
	"sync"
	"time"

	"github.com/openpact/sandboxbot/internal/logging"
)

// SendFunc performs one outbound send attempt. retryAfter > 0 signals the
// chat platform asked the caller to back off (a "too many requests"
// response); err carries any other failure.
type SendFunc func() (retryAfter time.Duration, err error)

// Gate serializes all outbound chat sends through a single global channel so
// that the ordering of agent replies is total, while additionally throttling
// sends to the same group chat and retrying on platform-signaled rate limits.
type Gate struct {
	sendMu sync.Mutex
	global *Limiter

	groupMu       sync.Mutex
	groupInterval time.Duration
	lastGroupSend map[string]time.Time

	maxRetries int
	logger     *logging.Logger
}

// NewGate builds a send gate. rate/burst bound the global send rate (the
// spec's ≈200ms / 5-per-second ceiling is rate=5, burst=1); groupInterval is
// the minimum spacing between sends to the same group chat.
func NewGate(rate float64, burst int, groupInterval time.Duration, maxRetries int, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{
		global:        New(Config{Rate: rate, Burst: burst}),
		groupInterval: groupInterval,
		lastGroupSend: make(map[string]time.Time),
		maxRetries:    maxRetries,
		logger:        logger,
	}
}

// Send routes one outbound message through the gate. groupKey is empty for
// private chats. A non-rate error is logged and swallowed: callers must be
// able to tolerate silent drops, per the gate's error-handling contract.
func (g *Gate) Send(groupKey string, send SendFunc) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	g.global.Wait()
	if groupKey != "" {
		g.waitForGroup(groupKey)
	}

	attempts := 0
	for {
		retryAfter, err := send()
		if retryAfter <= 0 {
			if err != nil {
				g.logger.WithField("group", groupKey).Warn("send failed: %v", err)
				return
			}
			if groupKey != "" {
				g.markGroupSend(groupKey)
			}
			return
		}

		attempts++
		if attempts > g.maxRetries {
			g.logger.WithField("group", groupKey).Warn("send abandoned after exhausting retries on rate limiting")
			return
		}
		time.Sleep(retryAfter + 250*time.Millisecond)
	}
}

func (g *Gate) waitForGroup(key string) {
	g.groupMu.Lock()
	last, ok := g.lastGroupSend[key]
	g.groupMu.Unlock()

	if !ok {
		return
	}
	if elapsed := time.Since(last); elapsed < g.groupInterval {
		time.Sleep(g.groupInterval - elapsed)
	}
}

func (g *Gate) markGroupSend(key string) {
	g.groupMu.Lock()
	g.lastGroupSend[key] = time.Now()
	g.groupMu.Unlock()
}
