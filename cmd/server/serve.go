package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danpat592/Yeettalk/internal/adapters/auth"
	router "github.com/danpat592/Yeettalk/internal/adapters/http"
	"github.com/danpat592/Yeettalk/internal/adapters/rtc"
	"github.com/danpat592/Yeettalk/internal/adapters/store"
	"github.com/danpat592/Yeettalk/internal/app"
	"github.com/danpat592/Yeettalk/internal/app/orch"
	"github.com/danpat592/Yeettalk/internal/moderation"
	"github.com/danpat592/Yeettalk/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if cfg.JWTSecret == "" {
		return errors.New("jwt_secret is required to serve")
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown")
		}
	}()

	if err := rtc.Validate(rtc.ConfigFromServers(cfg.ICEServers)); err != nil {
		return err
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	policy, err := app.ParsePolicy(cfg.Backpressure)
	if err != nil {
		return err
	}
	mod, err := moderation.NewModerator(cfg.Moderation.CensoredWords, []rune(cfg.Moderation.Replacement)[0])
	if err != nil {
		return err
	}
	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret), st)

	o := orch.New(orch.Deps{
		Registry:  app.NewRegistry(st),
		Typing:    app.NewTyping(cfg.TypingTimeout),
		Publisher: app.NewPublisher(policy),
		Verifier:  verifier,
		Store:     st,
		Sink:      st,
		Moderator: mod,
		Limits: orch.Limits{
			MaxContentLength: cfg.MaxContentLength,
			SaveTimeout:      cfg.SaveTimeout,
			SinkTimeout:      cfg.SinkTimeout,
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o, verifier, st),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.Typing.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Yeettalk server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		// Hijacked sockets are not tracked by the server; the orchestrator
		// closes them.
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return o.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
