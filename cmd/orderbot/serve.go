package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"orderbot/auth"
	"orderbot/bot"
	"orderbot/coder"
	"orderbot/config"
	"orderbot/db"
	"orderbot/discord"
	"orderbot/memstore"
	"orderbot/order"
	"orderbot/reminder"
	"orderbot/skill"
	"orderbot/wizard"
)

// platform is everything the services need from the chat gateway.
type platform interface {
	order.Messenger
	order.Workspace
	wizard.RoleDirectory
	wizard.PreviewExpirer
}

type stores struct {
	orders order.Repository
	coders coder.Repository
	close  func()
}

type app struct {
	handler   *bot.Handler
	orders    *order.Service
	reminders *reminder.Scheduler
}

func serveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			log, err := newLogger(os.Stderr, c.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c, log)
		},
	}
}

func serve(ctx context.Context, c *config.Config, log *slog.Logger) error {
	st, err := openStores(ctx, c, log)
	if err != nil {
		return err
	}
	defer st.close()

	policy := auth.NewPolicy(c.Roles.Admin, c.Roles.Elevated)
	gw, err := discord.New(discord.Config{
		Token:           c.Discord.Token,
		AppID:           c.Discord.AppID,
		GuildID:         c.Discord.GuildID,
		PrivateCategory: c.Channels.PrivateCategory,
		AdminRoleIDs:    append(append([]string(nil), c.Roles.Admin...), c.Roles.Elevated...),
	}, policy, log.With("component", "discord"))
	if err != nil {
		return err
	}

	a, err := assemble(c, st, gw, log)
	if err != nil {
		return err
	}
	gw.Attach(a.handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(gctx) })
	if c.Reminders.Interval > 0 {
		g.Go(func() error { return a.reminders.Run(gctx) })
	}
	log.Info("orderbot started", "store", c.Store, "guild_id", c.Discord.GuildID)
	return g.Wait()
}

// assemble builds the services on top of the stores and the gateway.
func assemble(c *config.Config, st stores, p platform, log *slog.Logger) (*app, error) {
	levels, err := c.LevelChannels()
	if err != nil {
		return nil, err
	}
	coders := coder.NewService(st.coders, log.With("component", "coder"))
	orders := order.NewService(st.orders, coders, p, p, order.Config{
		LevelChannels:        levels,
		DefaultChannel:       c.Channels.Default,
		MentionRoleIDs:       c.Roles.Mention,
		ArchivePrefix:        c.Channels.ArchivePrefix,
		VerificationCooldown: c.Verification.Cooldown,
	}, log.With("component", "order"))
	machine := wizard.New(orders, p, skill.NewKeywordClassifier(c.Keywords()), p, log.With("component", "wizard")).
		WithConfirmTimeout(c.Wizard.ConfirmTimeout)
	return &app{
		handler:   bot.NewHandler(machine, orders, coders, log.With("component", "bot")),
		orders:    orders,
		reminders: reminder.New(orders, p, c.Reminders.Interval, c.Reminders.Lead, log.With("component", "reminder")),
	}, nil
}

func openStores(ctx context.Context, c *config.Config, log *slog.Logger) (stores, error) {
	if c.Store == config.StoreMemory {
		log.Warn("using the in-memory store, orders are lost on restart")
		m := memstore.New()
		return stores{orders: m.Orders(), coders: m.Coders(), close: func() {}}, nil
	}
	pool, err := db.NewPool(ctx, c.Database.URL, c.Database.MaxConns)
	if err != nil {
		return stores{}, err
	}
	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	if len(applied) > 0 {
		log.Info("database migrated", "applied", applied)
	}
	return stores{
		orders: order.NewRepository(pool),
		coders: coder.NewRepository(pool),
		close:  pool.Close,
	}, nil
}

func migrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if c.Database.URL == "" {
				return fmt.Errorf("database.url is required")
			}
			pool, err := db.NewPool(cmd.Context(), c.Database.URL, c.Database.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}
