package historystore

import (
	"context"
	"time"

	"github.com/telegem/telegem/pkg/conversation"
)

// Entry is one persisted turn of the text-only history projection.
type Entry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Record is the durable per-user document. It intentionally carries less
// information than the live session: image turns never reach it.
type Record struct {
	History    []Entry   `json:"history"`
	LastUpdate time.Time `json:"last_update"`
}

// Store is the durable tier behind the session store. Implementations are
// best-effort collaborators: callers treat every error as "no durable data"
// and never surface it to users.
//
// MergeWrite must only touch the fields Record carries, leaving any other
// data an implementation keeps under the same key intact.
type Store interface {
	Read(ctx context.Context, user conversation.UserID) (Record, bool, error)
	MergeWrite(ctx context.Context, user conversation.UserID, rec Record) error
	Delete(ctx context.Context, user conversation.UserID) error
	Close() error
}
