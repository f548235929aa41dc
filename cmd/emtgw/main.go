package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsmatrix62/emtl/internal/captcha"
	"github.com/zsmatrix62/emtl/internal/config"
	"github.com/zsmatrix62/emtl/internal/emt"
	apphttp "github.com/zsmatrix62/emtl/internal/http"
	"github.com/zsmatrix62/emtl/internal/integrations/telegram"
	"github.com/zsmatrix62/emtl/internal/manager"
	"github.com/zsmatrix62/emtl/internal/security/passcrypt"
	"github.com/zsmatrix62/emtl/internal/security/secretbox"
	storepkg "github.com/zsmatrix62/emtl/internal/store"
	filestore "github.com/zsmatrix62/emtl/internal/store/file"
	"github.com/zsmatrix62/emtl/internal/store/memory"
	"github.com/zsmatrix62/emtl/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	var box *secretbox.Box
	if cfg.StoreKey != "" {
		b, err := secretbox.New(cfg.StoreKey)
		if err != nil {
			log.Fatalf("invalid store key: %v", err)
		}
		box = b
	}

	st := buildStore(cfg, box)

	encrypter, err := passcrypt.New()
	if err != nil {
		log.Fatalf("password encrypter: %v", err)
	}
	solver := captcha.NewHTTPSolver(
		cfg.SolverURL,
		cfg.SolverTimeout,
		cfg.SolverMaxRetries,
		500*time.Millisecond,
		5*time.Second,
	)

	mgr, err := manager.New(manager.Options{
		Store:      st,
		Policy:     manager.Policy(cfg.ValidityPolicy),
		DefaultTTL: cfg.SessionTTL,
		RetryDelay: cfg.RetryDelay,
		NewClient: func() (*emt.Client, error) {
			return emt.NewClient(emt.Options{
				BaseURL:        cfg.PortalBaseURL,
				QuoteURL:       cfg.QuoteBaseURL,
				Solver:         solver,
				Encrypter:      encrypter,
				CaptchaTimeout: cfg.CaptchaTimeout,
				Duration:       cfg.LoginDuration,
			})
		},
	})
	if err != nil {
		log.Fatalf("client manager: %v", err)
	}

	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	srv := apphttp.NewServer(cfg, mgr, notifier)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("emtl gateway listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func buildStore(cfg config.Config, box *secretbox.Box) storepkg.Store {
	switch cfg.StoreMode {
	case "postgres":
		if cfg.DatabaseURL != "" {
			pgStore, err := postgres.NewStore(cfg.DatabaseURL, cfg.SessionTTL, box)
			if err == nil {
				return pgStore
			}
			log.Printf("postgres store unavailable, falling back to file store: %v", err)
		}
	case "memory":
		return memory.NewStore(cfg.SessionTTL)
	}
	fileStore, err := filestore.NewStore(cfg.CacheDir, cfg.SessionTTL, box)
	if err != nil {
		log.Fatalf("file store at %s: %v", cfg.CacheDir, err)
	}
	return fileStore
}
