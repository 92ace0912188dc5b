package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rubricgate/rubricgate/internal/config"
	"github.com/rubricgate/rubricgate/internal/evaluate"
	"github.com/rubricgate/rubricgate/internal/gate"
	"github.com/rubricgate/rubricgate/internal/server"
	"github.com/rubricgate/rubricgate/internal/store"
	"github.com/rubricgate/rubricgate/internal/variance"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rubricgate HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging)

			judges, err := buildJudges(cfg, log)
			if err != nil {
				return err
			}
			gen, err := buildGenerator(cfg, log)
			if err != nil {
				return err
			}

			st, err := store.OpenSQLite(cfg.Database.Path, log)
			if err != nil {
				return err
			}
			defer st.Close()
			log.Info().Str("path", cfg.Database.Path).Msg("database opened")

			thresholds := variance.Thresholds{
				AgreeMax:   cfg.Evaluation.AgreeMax,
				CautionMax: cfg.Evaluation.CautionMax,
			}
			ev := evaluate.New(judges, thresholds, cfg.Evaluation.FailOpen, log)
			srv := server.New(cfg, log, st, ev, gen, gate.New(thresholds))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Run(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
