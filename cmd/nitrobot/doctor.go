package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"nitrobot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the nitrobot setup",
		Long: `Verifies that the configuration, credentials, audit database and
backend are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("nitrobot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r doctorReport

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.finish()
			}
			r.pass("Config validation", "valid")

			if err := config.RequireCredentials(cfg); err != nil {
				var cfgErr *config.ConfigurationError
				for _, e := range unwrapAll(err) {
					if errors.As(e, &cfgErr) {
						r.fail("Credentials", cfgErr.Error())
					}
				}
			} else {
				r.pass("Credentials", "all enabled components configured")
			}

			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					r.pass("Audit database", cfg.Audit.DBPath)
				}
			} else {
				r.warn("Audit database", "disabled")
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics address", cfg.Metrics.Addr+" available")
				}
			}

			client, err := newNitroClient(cfg, nil)
			if err != nil {
				r.fail("Backend", err.Error())
				return r.finish()
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Nitro.Timeout())
			defer cancel()
			start := time.Now()
			tools, err := client.ListTools(ctx)
			if err != nil {
				r.fail("Backend", err.Error())
			} else {
				r.pass("Backend", fmt.Sprintf("%d tool(s) in %s", len(tools), time.Since(start).Round(time.Millisecond)))
			}

			return r.finish()
		},
	}
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) finish() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running nitrobot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nnitrobot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! nitrobot is ready to run.\n")
	}
	return nil
}

// unwrapAll flattens an errors.Join tree one level deep.
func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
