package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nitrobot/internal/audit"
	"nitrobot/internal/bot"
	"nitrobot/internal/bus"
	"nitrobot/internal/channel"
	"nitrobot/internal/config"
	"nitrobot/internal/domain"
	"nitrobot/internal/history"
	"nitrobot/internal/metrics"
	"nitrobot/internal/nitro"
	"nitrobot/internal/trigger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the enabled chat platforms and answer questions",
		Long:  "Starts every enabled channel (Discord, Telegram, Slack) and the dispatcher. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	client, err := newNitroClient(cfg, m)
	if err != nil {
		return err
	}

	// A nil *audit.Store must not reach the orchestrator as a non-nil Recorder.
	var recorder bot.Recorder
	if cfg.Audit.Enabled {
		store, err := openAudit(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	eventBus := bus.New(bus.Config{BufferSize: cfg.Bot.QueueSize, Logger: logger})
	m.RegisterQueue("event_queue_depth", "Events waiting for the dispatcher", func() float64 {
		return float64(eventBus.Len())
	})

	orchestrator := bot.NewOrchestrator(bot.Config{
		Evaluator:         trigger.NewEvaluator(trigger.DefaultRules()...),
		Assembler:         history.NewAssembler(history.AssemblerConfig{Limit: cfg.Bot.HistoryLimit, Logger: logger}),
		Asker:             client,
		Commands:          bot.DefaultCommands(),
		MaxFragmentLength: cfg.Bot.MaxFragmentLength,
		TypingInterval:    time.Duration(cfg.Bot.TypingIntervalSeconds) * time.Second,
		Concurrency:       cfg.Bot.Concurrency,
		Recorder:          recorder,
		Observer:          m,
		Logger:            logger,
	})

	channels := enabledChannels(cfg, orchestrator.Commands().Specs())

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		g.Go(func() error {
			if err := ch.Start(gctx, eventBus); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
		logger.Info("channel enabled", "channel", ch.Name())
	}
	g.Go(func() error {
		orchestrator.Run(gctx, eventBus.Subscribe())
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Addr, logger)
		})
	}

	logger.Info("nitrobot started. Press Ctrl+C to stop.", "version", version)

	err = g.Wait()
	eventBus.Close()
	if dropped := eventBus.Dropped(); dropped > 0 {
		logger.Warn("events dropped while running", "count", dropped)
	}
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newNitroClient(cfg *config.Config, observer nitro.Observer) (*nitro.Client, error) {
	client, err := nitro.NewClient(nitro.ClientConfig{
		BaseURL:  cfg.Nitro.BaseURL,
		APIKey:   cfg.Nitro.APIKey,
		Model:    cfg.Nitro.Model,
		Timeout:  cfg.Nitro.Timeout(),
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("nitro client: %w", err)
	}
	return client, nil
}

// openAudit opens the ledger and drops records older than the retention
// window.
func openAudit(ctx context.Context, cfg *config.Config) (*audit.Store, error) {
	store, err := audit.NewStore(audit.StoreConfig{Path: cfg.Audit.DBPath, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	if days := cfg.Audit.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := store.Prune(ctx, cutoff)
		if err != nil {
			logger.Warn("audit prune failed", "err", err)
		} else if n > 0 {
			logger.Info("audit records pruned", "count", n, "before", cutoff.Format(time.DateOnly))
		}
	}
	return store, nil
}

func enabledChannels(cfg *config.Config, commands []domain.CommandSpec) []domain.Channel {
	var out []domain.Channel
	ch := cfg.Channels
	if ch.Discord.Enabled {
		out = append(out, channel.NewDiscord(channel.DiscordConfig{
			Token:    ch.Discord.Token,
			ClientID: ch.Discord.ClientID,
			GuildID:  ch.Discord.GuildID,
			Commands: commands,
			Logger:   logger,
		}))
	}
	if ch.Telegram.Enabled {
		out = append(out, channel.NewTelegram(channel.TelegramConfig{
			Token:  ch.Telegram.Token,
			Logger: logger,
		}))
	}
	if ch.Slack.Enabled {
		out = append(out, channel.NewSlack(channel.SlackConfig{
			BotToken: ch.Slack.BotToken,
			AppToken: ch.Slack.AppToken,
			Logger:   logger,
		}))
	}
	return out
}
