// Package main provides the entry point for the chatrelay server, a
// webhook-driven WhatsApp conversational relay: inbound messages are
// normalized, enriched with per-user session history, answered through a
// chat-completion backend and delivered back to the user.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/loopera/chatrelay/internal/api"
	"github.com/loopera/chatrelay/internal/config"
	"github.com/loopera/chatrelay/internal/extract"
	"github.com/loopera/chatrelay/internal/llm"
	"github.com/loopera/chatrelay/internal/logging"
	"github.com/loopera/chatrelay/internal/pipeline"
	"github.com/loopera/chatrelay/internal/session"
	"github.com/loopera/chatrelay/internal/wa"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("chatrelay Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Local development convenience; deployments set real environment variables.
	if err := godotenv.Load(); err == nil {
		log.Debug(".env file loaded")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("configuration load failed")
	}
	logging.ConfigureLogging(cfg.Debug, cfg.LogFile)

	if cfg.WhatsApp.Token == "" || cfg.PhoneNumberID() == "" {
		log.Warn("WhatsApp credentials missing, outbound delivery will fail")
	}
	if cfg.Groq.APIKey == "" {
		log.Warn("Groq API key missing, completion calls will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The session store degrades per-operation when its backend is down, but a
	// failed open (bad URL, unreachable database) falls back to the in-memory
	// store so the bot keeps answering, conversationally stateless.
	storeOpts := session.Options{TTL: cfg.Session.GetTTL(), MaxHistory: cfg.Session.GetMaxHistory()}
	store, err := session.OpenStore(ctx, cfg.Session.StoreURL, storeOpts)
	if err != nil {
		log.WithError(err).Warn("session store unavailable, running without conversation persistence")
		store = session.NewMemoryStore(storeOpts)
	} else {
		log.Info("session store connected")
	}

	prompts := config.NewPromptSource(cfg)
	waClient := wa.NewClient(cfg.WhatsApp.GetGraphBaseURL(), cfg.WhatsApp.Token, cfg.PhoneNumberID())
	llmClient := llm.NewClient(&cfg.Groq)
	extractor := extract.NewExtractor(waClient, llmClient)

	pipe := pipeline.New(waClient, extractor, llmClient, store, prompts.SystemPrompt)
	dispatcher := pipeline.NewDispatcher(pipe, pipeline.DefaultMaxConcurrentRuns, pipeline.DefaultRunTimeout)
	server := api.NewServer(cfg, dispatcher, store, Version)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(server.Start)
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info("shutting down")
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown incomplete")
		}
		if errDrain := dispatcher.Shutdown(shutdownCtx); errDrain != nil {
			log.WithError(errDrain).Warn("pipeline runs still in flight at shutdown")
		}
		prompts.Close()
		if errClose := store.Close(); errClose != nil {
			log.WithError(errClose).Warn("session store close failed")
		}
		return nil
	})

	if err = group.Wait(); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	log.Info("goodbye")
}
