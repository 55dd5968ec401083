package gateway

import (
	"sync"

	"github.com/telegem/telegem/pkg/conversation"
)

// userLocks serializes requests per user end-to-end. Requests for different
// users never contend; concurrent same-user requests would otherwise
// interleave session appends and corrupt turn ordering.
type userLocks struct {
	mu    sync.Mutex
	locks map[conversation.UserID]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: map[conversation.UserID]*sync.Mutex{}}
}

func (u *userLocks) lock(user conversation.UserID) *sync.Mutex {
	u.mu.Lock()
	m, ok := u.locks[user]
	if !ok {
		m = &sync.Mutex{}
		u.locks[user] = m
	}
	u.mu.Unlock()
	m.Lock()
	return m
}
