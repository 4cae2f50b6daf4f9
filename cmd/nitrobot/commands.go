package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"nitrobot/internal/audit"
	"nitrobot/internal/chunk"
	"nitrobot/internal/config"
	"nitrobot/internal/nitro"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func askCmd() *cobra.Command {
	var (
		userID string
		email  string
		model  string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send one question to the backend and print the answer",
		Long:  "Sends a single question without history and prints the answer split the way the bot would post it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := newNitroClient(cfg, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			question := strings.Join(args, " ")
			logger.Debug("asking", "question_len", len(question), "anonymous", userID == "")
			answer, err := client.Ask(ctx, nitro.Question{
				Text:   question,
				UserID: userID,
				Email:  email,
				Model:  model,
			})
			if err != nil {
				return err
			}

			fragments := chunk.Split(answer, cfg.Bot.MaxFragmentLength)
			for i, f := range fragments {
				if i > 0 {
					fmt.Println("---")
				}
				fmt.Println(f.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "platform user id to ask as (default: anonymous)")
	cmd.Flags().StringVar(&email, "email", "", "email forwarded with the question")
	cmd.Flags().StringVar(&model, "model", "", "model override for this question")
	return cmd
}

func toolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the backend advertises",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := newNitroClient(cfg, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Nitro.Timeout())
			defer cancel()

			tools, err := client.ListTools(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(tools, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			for _, t := range tools {
				fmt.Printf("%-20s %s\n", t.Name, t.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw tool descriptors")
	return cmd
}

func statsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded backend asks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Audit.Enabled {
				return errors.New("audit is disabled (set audit.enabled)")
			}
			store, err := audit.NewStore(audit.StoreConfig{Path: cfg.Audit.DBPath, Logger: logger})
			if err != nil {
				return fmt.Errorf("audit store: %w", err)
			}
			defer store.Close()

			sum, err := store.Summary(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			printSummary(sum)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window to summarize")
	return cmd
}

func printSummary(sum audit.Summary) {
	fmt.Printf("Asks since %s: %d\n", sum.Since.Format(time.DateTime), sum.Total)
	if sum.Total == 0 {
		return
	}
	fmt.Printf("Average latency: %s\n", sum.AvgLatency.Round(time.Millisecond))

	fmt.Println("\nBy outcome:")
	for _, k := range slices.Sorted(maps.Keys(sum.ByOutcome)) {
		fmt.Printf("  %-20s %d\n", k, sum.ByOutcome[k])
	}
	fmt.Println("\nBy platform:")
	for _, k := range slices.Sorted(maps.Keys(sum.ByPlatform)) {
		fmt.Printf("  %-20s %d\n", k, sum.ByPlatform[k])
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Show, get and set configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "show",
		Aliases: []string{"list"},
		Short:   "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. nitro.baseUrl)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. bot.historyLimit 10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			// The file as written: env-only secrets and ${VAR} placeholders
			// must not end up on disk.
			cfg, err := config.LoadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "paths",
		Short: "List every config path with its current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, p := range slices.Sorted(maps.Keys(paths)) {
				fmt.Printf("%s = %v\n", p, paths[p])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.ExpandPath(resolveConfigPath()))
		},
	})

	return cmd
}
