package main

import (
	"context"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/telegem/telegem/pkg/assembly"
	"github.com/telegem/telegem/pkg/config"
	"github.com/telegem/telegem/pkg/gateway"
	"github.com/telegem/telegem/pkg/gemini"
	"github.com/telegem/telegem/pkg/persistence/historystore"
	"github.com/telegem/telegem/pkg/session"
	"github.com/telegem/telegem/pkg/telegram"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "telegem",
		Short: "Telegram assistant bot backed by Gemini with per-user conversation memory",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("telegem failed")
	}
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	durable, err := buildHistoryStore(cfg)
	if err != nil {
		return err
	}
	if durable != nil {
		defer func() { _ = durable.Close() }()
	}
	sessions := session.NewStore(durable)

	var model gemini.ModelClient
	if cfg.GeminiEnabled() {
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			// Gemini stays disabled; the gateway reports the
			// misconfiguration per request instead of taking the
			// bot down.
			log.Error().Err(err).Msg("gemini client failed to initialize")
		} else {
			model = client
		}
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, model replies are disabled")
	}

	gw, err := gateway.New(gateway.Config{
		Sessions: sessions,
		Pipeline: assembly.NewPipeline(),
		Model:    model,
	})
	if err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return errors.Wrap(err, "create telegram api client")
	}
	log.Info().Str("bot", api.Self.UserName).Msg("telegram api client ready")

	pub, sub, err := telegram.BuildPubSub(cfg.Bus)
	if err != nil {
		return errors.Wrap(err, "build update bus")
	}

	bot := telegram.NewBot(api, gw, sessions, telegram.NewBotFetcher(api), model != nil)
	srv, err := telegram.NewServer(cfg, api, bot, pub, sub)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func buildHistoryStore(cfg *config.Config) (historystore.Store, error) {
	switch cfg.History.Backend {
	case config.HistoryBackendNone:
		log.Info().Msg("durable history disabled, sessions are in-memory only")
		return nil, nil
	case config.HistoryBackendSQLite:
		dsn, err := historystore.SQLiteDSNForFile(cfg.History.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := historystore.NewSQLiteStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite history store")
		}
		log.Info().Str("path", cfg.History.SQLitePath).Msg("using sqlite history store")
		return store, nil
	case config.HistoryBackendRedis:
		store, err := historystore.NewRedisStore(cfg.History.RedisAddr)
		if err != nil {
			return nil, errors.Wrap(err, "open redis history store")
		}
		log.Info().Str("addr", cfg.History.RedisAddr).Msg("using redis history store")
		return store, nil
	default:
		return nil, errors.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
