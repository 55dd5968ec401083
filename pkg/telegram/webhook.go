package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/telegem/telegem/pkg/config"
)

// Server owns the webhook HTTP listener and the update dispatch loop. The
// webhook handler only validates and enqueues; all real work happens on the
// subscriber side, one goroutine per update.
type Server struct {
	cfg     *config.Config
	api     *tgbotapi.BotAPI
	bot     *Bot
	pub     message.Publisher
	sub     message.Subscriber
	httpSrv *http.Server
}

func NewServer(cfg *config.Config, api *tgbotapi.BotAPI, bot *Bot, pub message.Publisher, sub message.Subscriber) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("telegram server: config is nil")
	}
	if bot == nil {
		return nil, errors.New("telegram server: bot is nil")
	}
	s := &Server{cfg: cfg, api: api, bot: bot, pub: pub, sub: sub}

	mux := http.NewServeMux()
	mux.HandleFunc(webhookPath(cfg.BotToken), s.handleWebhook)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "Bot running")
	})
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// webhookPath embeds the bot token so only Telegram can hit the handler.
func webhookPath(token string) string {
	return "/" + token
}

func webhookURL(base, token string) string {
	return strings.TrimRight(base, "/") + webhookPath(token)
}

// RegisterWebhook removes any previous webhook and installs the current one.
func (s *Server) RegisterWebhook() error {
	if s.api == nil {
		return errors.New("telegram server: api is nil")
	}
	if _, err := s.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return errors.Wrap(err, "telegram server: delete webhook")
	}
	url := webhookURL(s.cfg.WebhookBase, s.cfg.BotToken)
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return errors.Wrap(err, "telegram server: build webhook config")
	}
	if _, err := s.api.Request(wh); err != nil {
		return errors.Wrap(err, "telegram server: set webhook")
	}
	log.Info().Str("url", url).Msg("webhook registered")
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	if err := s.pub.Publish(UpdatesTopic, msg); err != nil {
		// The transport will redeliver; the gateway's debounce absorbs
		// the duplicates.
		log.Error().Err(err).Msg("failed to enqueue update")
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = io.WriteString(w, "OK")
}

// dispatchLoop consumes enqueued updates and hands each to the bot on its own
// goroutine. Per-user ordering is the gateway's job, not the loop's.
func (s *Server) dispatchLoop(ctx context.Context) error {
	ch, err := s.sub.Subscribe(ctx, UpdatesTopic)
	if err != nil {
		return errors.Wrap(err, "telegram server: subscribe updates")
	}
	for msg := range ch {
		var upd tgbotapi.Update
		if err := json.Unmarshal(msg.Payload, &upd); err != nil {
			log.Warn().Err(err).Msg("failed to decode update json")
			msg.Ack()
			continue
		}
		go s.bot.HandleUpdate(ctx, upd)
		msg.Ack()
	}
	return nil
}

// Run registers the webhook and serves until the context is cancelled or a
// signal arrives.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("telegram server: ctx is nil")
	}
	if err := s.RegisterWebhook(); err != nil {
		return err
	}

	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg.Go(func() error { return s.dispatchLoop(srvCtx) })

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting webhook server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
