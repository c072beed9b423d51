package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nebulaai/nebula/backend/internal/analysis/guardrails"
	"github.com/nebulaai/nebula/backend/internal/config"
	"github.com/nebulaai/nebula/backend/internal/handler"
	"github.com/nebulaai/nebula/backend/internal/service/agent"
	"github.com/nebulaai/nebula/backend/internal/service/ai"
	"github.com/nebulaai/nebula/backend/internal/service/memory"
	"github.com/nebulaai/nebula/backend/internal/service/prompt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store := memory.NewStore(ctx, cfg.Mongo)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Printf("warning: closing store: %v", err)
		}
	}()

	policy := guardrails.DefaultPolicy()
	policy.HarmfulEnabled = cfg.Guardrail.Harmful
	policy.SpamEnabled = cfg.Guardrail.Spam
	policy.OffTopicEnabled = cfg.Guardrail.OffTopic
	policy.ProfanityEnabled = cfg.Guardrail.Profanity

	filter, err := guardrails.NewFilter(policy)
	if err != nil {
		log.Fatalf("failed to compile guardrail patterns: %v", err)
	}

	var registry *agent.Registry
	if cfg.AI.Enabled() {
		generator, err := ai.NewArkGenerator(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI generator: %v", err)
			log.Println("continuing without chat functionality")
		} else {
			resilient := ai.NewResilient(generator, nil)
			promptCfg := prompt.DefaultConfig()
			promptCfg.MaxHistory = cfg.Prompt.MaxHistory
			promptCfg.SummaryThreshold = cfg.Prompt.SummaryThreshold
			if cfg.AI.Temperature != nil {
				promptCfg.Temperature = *cfg.AI.Temperature
			}
			if cfg.AI.TopP != nil {
				promptCfg.TopP = *cfg.AI.TopP
			}
			if cfg.AI.MaxTokens != nil {
				promptCfg.MaxTokens = *cfg.AI.MaxTokens
			}

			registry = agent.NewRegistry(func(ctx context.Context, sessionID, userID string) *agent.Agent {
				prompts := prompt.NewManager(promptCfg, filter)
				return agent.New(ctx, sessionID, userID, prompts, store, resilient)
			})
			log.Println("AI generator initialized successfully")
		}
	} else {
		log.Println("model credentials not configured, chat endpoints disabled")
	}

	router := handler.NewRouter(store, registry)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Nebula AI backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
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
