package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telegem/telegem/pkg/conversation"
	"github.com/telegem/telegem/pkg/persistence/historystore"
)

// Store owns per-user conversation history across two tiers: a volatile,
// complete in-memory map that is authoritative while the process lives, and a
// lossy durable projection (text-only turns) written best-effort for crash
// recovery. Correctness never depends on the durable tier; every durable
// failure is logged and treated as a cache miss or no-op.
type Store struct {
	mu       sync.RWMutex
	sessions map[conversation.UserID]*conversation.Session

	durable historystore.Store // nil disables the durable tier
}

func NewStore(durable historystore.Store) *Store {
	return &Store{
		sessions: map[conversation.UserID]*conversation.Session{},
		durable:  durable,
	}
}

// Get returns a snapshot of the user's session. On a volatile miss it tries
// to reconstruct from the durable projection; image turns from a previous
// process are gone by design. This never fails outward.
func (s *Store) Get(ctx context.Context, user conversation.UserID) conversation.Session {
	s.mu.RLock()
	if sess, ok := s.sessions[user]; ok {
		snap := sess.Clone()
		s.mu.RUnlock()
		return snap
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[user]; ok {
		return sess.Clone()
	}
	sess := s.loadDurableLocked(ctx, user)
	s.sessions[user] = sess
	return sess.Clone()
}

// loadDurableLocked reconstructs a session from the durable tier, or returns
// a fresh empty one when there is nothing to load or the load fails.
func (s *Store) loadDurableLocked(ctx context.Context, user conversation.UserID) *conversation.Session {
	sess := &conversation.Session{UserID: user}
	if s.durable == nil {
		return sess
	}
	rec, ok, err := s.durable.Read(ctx, user)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", int64(user)).Msg("durable history read failed, starting empty")
		return sess
	}
	if !ok {
		return sess
	}
	for _, e := range rec.History {
		role := conversation.Role(e.Role)
		if role != conversation.RoleUser && role != conversation.RoleModel {
			continue
		}
		sess.Turns = append(sess.Turns, conversation.NewTurn(role, conversation.NewTextPart(e.Text)))
	}
	log.Debug().Int64("user_id", int64(user)).Int("turns", len(sess.Turns)).Msg("restored session from durable history")
	return sess
}

// Append adds the turn to the volatile session synchronously, then writes the
// text-only projection of the full history to the durable tier. The durable
// write is best-effort: failure is logged and never undoes the append.
func (s *Store) Append(ctx context.Context, user conversation.UserID, turn conversation.Turn) {
	s.mu.Lock()
	sess, ok := s.sessions[user]
	if !ok {
		sess = s.loadDurableLocked(ctx, user)
		s.sessions[user] = sess
	}
	sess.Turns = append(sess.Turns, turn)
	projection := projectTextHistory(sess)
	s.mu.Unlock()

	if s.durable == nil {
		return
	}
	rec := historystore.Record{History: projection, LastUpdate: time.Now()}
	if err := s.durable.MergeWrite(ctx, user, rec); err != nil {
		log.Warn().Err(err).Int64("user_id", int64(user)).Msg("durable history write failed, volatile session unaffected")
	}
}

// Reset clears both tiers for the user. Durable delete failure is logged and
// otherwise ignored.
func (s *Store) Reset(ctx context.Context, user conversation.UserID) {
	s.mu.Lock()
	delete(s.sessions, user)
	s.mu.Unlock()

	if s.durable == nil {
		return
	}
	if err := s.durable.Delete(ctx, user); err != nil {
		log.Warn().Err(err).Int64("user_id", int64(user)).Msg("durable history delete failed")
	}
}

// projectTextHistory extracts the lossy durable projection: only turns whose
// parts are all text survive.
func projectTextHistory(sess *conversation.Session) []historystore.Entry {
	entries := make([]historystore.Entry, 0, len(sess.Turns))
	for _, t := range sess.Turns {
		if !t.TextOnly() {
			continue
		}
		entries = append(entries, historystore.Entry{
			Role: string(t.Role),
			Text: t.JoinedText(),
		})
	}
	return entries
}
