package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/fengnong/fengnong-agent/backend/internal/config"
	"github.com/fengnong/fengnong-agent/backend/internal/handler"
	"github.com/fengnong/fengnong-agent/backend/internal/logging"
	"github.com/fengnong/fengnong-agent/backend/internal/metrics"
	"github.com/fengnong/fengnong-agent/backend/internal/model/persona"
	"github.com/fengnong/fengnong-agent/backend/internal/service/ai"
	"github.com/fengnong/fengnong-agent/backend/internal/service/chat"
	"github.com/fengnong/fengnong-agent/backend/internal/service/history"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "fengnong",
		Short:         "农业助手后端：对话、流式对话与向量化接口",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return pkgerrors.Wrapf(err, "load %s", envFile)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})
	root.AddCommand(newHistoryCommand())
	return root
}

func newHistoryCommand() *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored turns of a session as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log)

			store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			turns, err := store.ListBySession(cmd.Context(), sessionID, 0)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, turn := range turns {
				if err := enc.Encode(turn); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 1, "session id")
	return cmd
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to load configuration")
	}
	logging.Setup(cfg.Log)

	personaStore := persona.NewMemoryStore(persona.Seed())
	m := metrics.New()

	store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open history store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history store")
		}
	}()
	log.Info().Str("driver", cfg.History.Driver).Str("dsn", cfg.History.DSN).Msg("history store opened")

	deps := handler.Deps{
		Personas:       personaStore,
		Metrics:        m,
		EmbeddingModel: cfg.Embedding.Model,
	}

	// Initialize AI service
	if cfg.AI.Enabled() {
		client, err := newAIClient(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI client, continuing without AI functionality")
		} else {
			chatSvc, err := chat.NewService(store, client, chat.Config{
				SystemPrompt:   persona.SystemPrompt(personaStore, persona.AgronomistID),
				PersistWorkers: cfg.History.PersistWorkers,
				Metrics:        m,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := chatSvc.Close(); err != nil {
					log.Warn().Err(err).Msg("pending history writes not drained")
				}
			}()
			deps.AI = client
			deps.Chat = chatSvc
			log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized successfully")
		}
	} else {
		log.Warn().Msg("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	return startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func newAIClient(ctx context.Context, cfg *config.Config) (*ai.Client, error) {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create chat model")
	}

	var embedder embeddings.Embedder
	if cfg.Embedding.Enabled() {
		embedder, err = ai.NewEmbedder(ai.EmbedderConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
		})
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("EMBEDDING_MODEL not set, /ai/embedding will fail")
	}

	return ai.NewClient(ctx, chatModel, embedder)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Msg("fengnong backend listening")
	if err := runServer(ctx, srv); err != nil {
		return pkgerrors.Wrap(err, "server error")
	}
	log.Info().Msg("server shutdown complete")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
