package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/tutoring_bot/internal/app"
	"github.com/Freeeeeet/tutoring_bot/internal/config"
	"github.com/Freeeeeet/tutoring_bot/internal/eventbus"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema",
	}

	withMigrator := func(fn func(ctx context.Context, mg *app.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if e.cfg.StorageDriver != config.StorageDriverPostgres {
				return errors.New("migrations require STORAGE_DRIVER=postgres")
			}
			ctx := cmd.Context()
			pool, err := app.OpenPool(ctx, e.cfg.GetDBDSN())
			if err != nil {
				return err
			}
			defer pool.Close()

			mg, err := app.NewMigrator(pool, app.MigrationsFS(e.cfg.MigrationsPath), e.logger)
			if err != nil {
				return err
			}
			defer mg.Close()
			return fn(ctx, mg)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, mg *app.Migrator) error {
				return mg.Run(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, mg *app.Migrator) error {
				return mg.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, mg *app.Migrator) error {
				v, err := mg.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			}),
		},
	)
	return cmd
}

func newAvailabilityCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "availability",
		Aliases: []string{"avail"},
		Short:   "Inspect and edit volunteer availability",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <@volunteer|id> <YYYY-MM-DD> [slot...]",
			Short: "Replace the slots of one day",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, closeFn, err := e.services(ctx)
				if err != nil {
					return err
				}
				defer closeFn()

				owner, err := resolveUser(ctx, svc, args[0])
				if err != nil {
					return err
				}
				day, err := svc.Availability.SetDay(ctx, model.CallerFor(owner), args[1], args[2:])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), day)
			},
		},
		&cobra.Command{
			Use:   "show <@volunteer|id> [YYYY-MM-DD]",
			Short: "Show one day or all upcoming days",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, closeFn, err := e.services(ctx)
				if err != nil {
					return err
				}
				defer closeFn()

				owner, err := resolveUser(ctx, svc, args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					day, err := svc.Availability.Get(ctx, owner.ID, args[1])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), day)
				}
				days, err := svc.Availability.ListUpcoming(ctx, owner.ID, e.clock.Now().UTC().Format("2006-01-02"))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), days)
			},
		},
	)
	return cmd
}

func newSessionCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect sessions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a session as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, closeFn, err := e.services(ctx)
				if err != nil {
					return err
				}
				defer closeFn()

				sess, err := svc.Sessions.Get(ctx, model.SystemCaller(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sess)
			},
		},
		&cobra.Command{
			Use:   "list <@user|id>",
			Short: "List sessions of a participant, newest first",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				svc, closeFn, err := e.services(ctx)
				if err != nil {
					return err
				}
				defer closeFn()

				user, err := resolveUser(ctx, svc, args[0])
				if err != nil {
					return err
				}
				sessions, err := svc.Sessions.ListMine(ctx, model.CallerFor(user))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sessions)
			},
		},
	)
	return cmd
}

func newEventsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Realtime session events",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "watch <@user|id>",
		Short: "Stream events published to a user until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.RedisAddr == "" {
				return errors.New("REDIS_ADDR is required to watch events")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeFn, err := e.services(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			user, err := resolveUser(ctx, svc, args[0])
			if err != nil {
				return err
			}

			client, err := eventbus.Connect(ctx, e.cfg.RedisAddr, e.cfg.RedisPassword, e.cfg.RedisDB)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			return eventbus.Watch(ctx, client, user.ID, func(ev *eventbus.Envelope) {
				if err := printJSON(out, ev); err != nil {
					e.logger.Warn("Failed to print event", zap.Error(err))
				}
			})
		},
	})
	return cmd
}

func resolveUser(ctx context.Context, svc *app.Services, ref string) (*model.User, error) {
	user, err := svc.Users.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", service.ErrNotFound, ref)
	}
	return user, nil
}
