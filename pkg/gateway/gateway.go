package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/telegem/telegem/pkg/assembly"
	"github.com/telegem/telegem/pkg/conversation"
	"github.com/telegem/telegem/pkg/gemini"
	"github.com/telegem/telegem/pkg/session"
)

// Reply is the gateway's success result. Suppressed replies carry no text:
// the event was a duplicate and nothing happened.
type Reply struct {
	Text       string
	Suppressed bool
}

// Config wires the gateway's collaborators. Model may be nil when no
// credential was configured; the gateway then answers every request with the
// auth-config error instead of crashing or hiding the problem.
type Config struct {
	Sessions       *session.Store
	Pipeline       *assembly.Pipeline
	Model          gemini.ModelClient
	DebounceWindow time.Duration
	Clock          func() time.Time
}

// Gateway is the single entry point per inbound event: debounce, assemble,
// append, invoke, append. Each request is one linear pass; same-user requests
// are serialized end-to-end.
type Gateway struct {
	sessions *session.Store
	pipeline *assembly.Pipeline
	model    gemini.ModelClient
	debounce *debouncer
	locks    *userLocks
	clock    func() time.Time
	authWarn sync.Once
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("gateway: session store is nil")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("gateway: assembly pipeline is nil")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gateway{
		sessions: cfg.Sessions,
		pipeline: cfg.Pipeline,
		model:    cfg.Model,
		debounce: newDebouncer(cfg.DebounceWindow),
		locks:    newUserLocks(),
		clock:    clock,
	}, nil
}

// Handle processes one inbound event. It returns either a Reply or a
// *gateway.Error; no other error type escapes, and a single request can
// never take the process down.
func (g *Gateway) Handle(ctx context.Context, user conversation.UserID, asset *assembly.Asset, caption string) (reply Reply, gwErr *Error) {
	reqLog := log.With().
		Str("component", "gateway").
		Str("request_id", uuid.NewString()).
		Int64("user_id", int64(user)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			reqLog.Error().Interface("panic", r).Msg("recovered panic in request handling")
			reply = Reply{}
			gwErr = newError(KindInternal, errors.Errorf("panic: %v", r))
		}
	}()

	mu := g.locks.lock(user)
	defer mu.Unlock()

	if g.debounce.observe(user, g.clock()) {
		reqLog.Debug().Msg("duplicate event suppressed")
		return Reply{Suppressed: true}, nil
	}

	parts, err := g.pipeline.Assemble(asset, caption)
	if err != nil {
		e := classifyAssembly(err)
		if !e.IsUserError() {
			reqLog.Error().Err(err).Msg("content assembly failed")
		}
		return Reply{}, e
	}

	if g.model == nil {
		g.authWarn.Do(func() {
			log.Error().Msg("model client disabled: missing credentials, every request will be rejected until configuration is fixed")
		})
		return Reply{}, newError(KindAuthConfig, errors.New("model client not configured"))
	}

	history := g.sessions.Get(ctx, user)
	g.sessions.Append(ctx, user, conversation.NewTurn(conversation.RoleUser, parts...))

	text, err := g.model.Send(ctx, history.Turns, parts)
	if err != nil {
		e := classifyUpstream(err)
		if e.Kind == KindAuthConfig {
			g.authWarn.Do(func() {
				log.Error().Err(err).Msg("model rejected credentials, every request will fail until configuration is fixed")
			})
		} else {
			reqLog.Warn().Err(err).Str("kind", string(e.Kind)).Msg("model call failed, user turn kept for retry")
		}
		// No model turn is appended: the user's turn stays so a retry
		// continues the same context.
		return Reply{}, e
	}

	g.sessions.Append(ctx, user, conversation.NewTurn(conversation.RoleModel, conversation.NewTextPart(text)))
	reqLog.Debug().Int("history_turns", len(history.Turns)).Msg("request completed")
	return Reply{Text: text}, nil
}
