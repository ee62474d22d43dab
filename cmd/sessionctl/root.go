package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Freeeeeet/tutoring_bot/internal/app"
	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/config"
	"github.com/Freeeeeet/tutoring_bot/internal/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env общие зависимости подкоманд
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  clock.Clock
}

func newRootCmd() *cobra.Command {
	e := &env{clock: clock.Real()}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operator tool for the tutoring session engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = app.NewLogger(cfg.Environment, cfg.LogLevel)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	root.AddCommand(
		newMigrateCmd(e),
		newAvailabilityCmd(e),
		newSessionCmd(e),
		newEventsCmd(e),
	)
	return root
}

// services поднимает хранилище и сервисы без бота: уведомления только пишутся в лог
func (e *env) services(ctx context.Context) (*app.Services, func(), error) {
	store, err := app.OpenStorage(ctx, e.cfg, false, e.logger)
	if err != nil {
		return nil, nil, err
	}
	events, closeEvents := app.OpenEventBus(ctx, e.cfg, e.clock, e.logger)

	svc := app.NewServices(e.cfg, store, notify.NewLogSink(e.logger), events, e.clock, e.logger)
	return svc, func() {
		svc.Timers.Stop()
		closeEvents()
		store.Close()
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
