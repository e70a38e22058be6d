package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/memvault/memvault/internal/api"
	"github.com/memvault/memvault/internal/audit"
	"github.com/memvault/memvault/internal/auth"
	"github.com/memvault/memvault/internal/embedding"
	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/graph"
	"github.com/memvault/memvault/internal/logging"
	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/query"
	"github.com/memvault/memvault/internal/security"
	"github.com/memvault/memvault/internal/store"
	"github.com/memvault/memvault/internal/tool"
	"github.com/memvault/memvault/internal/webhook"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long:  "Start the API server: entry CRUD with optimistic concurrency, hybrid query, consents, graph scoring, webhook subscriptions, and the agent tool endpoints.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")

	cfg := loadConfig()
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Auth.JWTSecret == "" {
		exitErr("serve", fmt.Errorf("auth.jwt_secret is required (set MEMVAULT_JWT_SECRET or the config file)"))
	}

	logging.Init(cfg.Log.Level)
	log := logrus.StandardLogger()

	s, err := store.Open(cfg.DB.Path)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	// Subscribers see events only after the owning transaction commits.
	bus := event.NewBus()
	bus.Subscribe(webhook.NewDispatcher(s, cfg.Webhooks.Timeout, log))
	bus.Subscribe(graph.NewSync(s, log))
	bus.Subscribe(audit.NewRecorder(s, log))
	s.SetEvents(bus)

	embedder, err := embedding.New(cfg.Embeddings)
	if err != nil {
		exitErr("configure embeddings", err)
	}

	q, err := query.New(s, embedder, cfg.Query, log)
	if err != nil {
		exitErr("create query service", err)
	}
	defer q.Close()

	engine := policy.NewEngine(s)
	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, s, engine)
	sanitizer := security.New()
	tools := tool.NewDispatcher(authn, s, q, sanitizer, log)

	server := api.New(api.Params{
		Store:     s,
		Engine:    engine,
		Auth:      authn,
		Query:     q,
		Tools:     tools,
		Sanitizer: sanitizer,
		Log:       log,
	})

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server.Router()}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr": cfg.Server.Addr,
		"db":   cfg.DB.Path,
	}).Info("memvault listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		exitErr("serve", err)
	}
}
