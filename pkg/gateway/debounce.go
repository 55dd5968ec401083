package gateway

import (
	"sync"
	"time"

	"github.com/telegem/telegem/pkg/conversation"
)

// DefaultDebounceWindow absorbs duplicate-delivery retries from the inbound
// transport, which redelivers events under uncertain acknowledgement.
const DefaultDebounceWindow = time.Second

// debouncer keeps one last-seen timestamp per user. The record is overwritten
// on every inbound event, whether or not the event gets processed, so a
// steady stream of duplicates stays suppressed.
type debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[conversation.UserID]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &debouncer{
		window:   window,
		lastSeen: map[conversation.UserID]time.Time{},
	}
}

// observe records the event and reports whether it should be suppressed.
func (d *debouncer) observe(user conversation.UserID, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSeen[user]
	d.lastSeen[user] = now
	return ok && now.Sub(last) < d.window
}
