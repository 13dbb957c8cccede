/*
Package main is the entry point for the o365scan command-line application.

o365scan reads a list of email addresses (plain text or RTF), classifies the
domain of every address by its MX records, and writes the addresses whose
mail is hosted on Microsoft 365 to an RTF report.

Long runs are resumable: progress, matches and the per-domain cache are
checkpointed to a JSON file, and a later run continues where the previous
one stopped. SIGINT and SIGTERM stop the run after saving a consistent
checkpoint.

Subcommands:
  - `classify`: classify domains given on the command line.
  - `checkpoint show`: summarize the persisted checkpoint.

Settings come from flags, O365SCAN_* environment variables and an optional
config file (see internal/config).
*/
package main

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/x-stp/o365scan/internal/checkpoint"
	"github.com/x-stp/o365scan/internal/classify"
	"github.com/x-stp/o365scan/internal/config"
	"github.com/x-stp/o365scan/internal/core"
	"github.com/x-stp/o365scan/internal/extract"
	"github.com/x-stp/o365scan/internal/metrics"
	"github.com/x-stp/o365scan/internal/report"
	"go.uber.org/zap"
)

// Global flags (persistent across commands)
var configFile string

var rootCmd = &cobra.Command{
	Use:   "o365scan",
	Short: "o365scan - find the Microsoft 365 hosted addresses in a mailing list",
	Long: `Extracts email addresses from the input file (or stdin), classifies each
domain by its MX records as O365, Other or No MX, and writes the O365 matches
to an RTF report. Progress is checkpointed so an interrupted run can resume.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		return withContainer(cmd, cfg, func(ctx context.Context, c runDeps) error {
			return scan(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <domain>...",
	Short: "Classify domains by their MX records without touching the checkpoint",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		return withContainer(cmd, cfg, func(ctx context.Context, c runDeps) error {
			return classifyDomains(ctx, c.Classifier, args, cmd.OutOrStdout())
		})
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect the checkpoint file",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a summary of the checkpoint file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		return showCheckpoint(cfg.GetCheckpoint().Path, cmd.OutOrStdout())
	},
}

func init() {
	// Persistent flags (available for all commands)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-format", "console", "Log format: console or json")
	pf.String("checkpoint", "checkpoint.json", "Checkpoint file")
	pf.Duration("dns-timeout", core.DefaultDNSTimeout, "Lifetime of one domain lookup")
	pf.Int("dns-retries", 1, "Retries per nameserver within the lookup lifetime")
	pf.StringSlice("nameserver", nil, "Nameserver to query (repeatable, default from /etc/resolv.conf)")
	pf.String("dns-backend", config.BackendMiekg, "Resolver backend: miekg or std")
	pf.Float64("qps", 0, "Maximum DNS queries per second (0 for unlimited)")

	// Flags for the scan itself
	f := rootCmd.Flags()
	f.StringP("input", "i", "input.rtf", "Input file with addresses (plain text or RTF); stdin if absent or empty")
	f.StringP("output", "o", "output_o365.rtf", "RTF report of O365 addresses")
	f.Bool("checkpointing", true, "Persist progress and resume from the checkpoint")
	f.Int("save-every", core.DefaultSaveEvery, "Addresses between checkpoint saves")
	f.Int("progress-every", core.DefaultProgressEvery, "Addresses between progress lines")
	f.IntP("workers", "w", 1, "Parallel resolution workers (1 runs serially)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	checkpointCmd.AddCommand(checkpointShowCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withContainer builds the dependency container, installs signal handling
// and hands the resolved dependencies to fn.
func withContainer(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, c runDeps) error) error {
	container, err := BuildContainer(cfg, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}

	return container.Invoke(func(c runDeps) error {
		defer c.Logger.Sync() //nolint:errcheck

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Setup signal handling for graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case sig := <-sigChan:
				c.Logger.Warn("Received signal, finishing in-flight lookups", zap.String("signal", sig.String()))
				cancel()
			case <-ctx.Done():
			}
		}()

		return fn(ctx, c)
	})
}

// scan is the default action: read, extract, classify, report.
func scan(ctx context.Context, c runDeps, stdin io.Reader, out io.Writer) error {
	files := c.Config.GetIO()
	cp := c.Config.GetCheckpoint()

	if addr := c.Config.GetMetricsAddr(); addr != "" {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(addr, c.Logger); err != nil {
			c.Logger.Warn("Failed to start metrics server", zap.Error(err))
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metrics.ShutdownMetricsServer(sctx)
		}()
	}

	text, err := extract.ReadInput(files.Input, stdin, out)
	if err != nil {
		return err
	}
	emails := extract.Extract(text)

	if cp.Enabled {
		lock, err := checkpoint.AcquireLock(cp.Path)
		if err != nil {
			return err
		}
		defer lock.Release() //nolint:errcheck
	}

	summary, err := c.Runner.Run(ctx, emails)
	if c.Limiter != nil {
		logLimiterStats(c.Logger, c.Limiter)
	}
	if err != nil {
		if summary != nil && errors.Is(err, core.ErrInterrupted) {
			c.Logger.Warn("Run interrupted, resume by running again",
				zap.Int("next_index", summary.NextIndex),
				zap.Int("total", summary.Total))
		}
		return err
	}

	if err := report.WriteFile(files.Output, summary.Results); err != nil {
		return err
	}
	c.Logger.Info("Report written",
		zap.String("path", files.Output),
		zap.Int("matched", summary.Matched),
		zap.Duration("elapsed", summary.Elapsed))

	fmt.Fprintf(out, "\nDONE. Saved %d O365 emails.\n", summary.Matched)
	return nil
}

// logLimiterStats reports how far the adaptive limiter backed off.
func logLimiterStats(logger *zap.Logger, rl *core.RateLimiter) {
	st := rl.Stats()
	logger.Info("DNS rate limiter",
		zap.Float64("qps", st.CurrentRate),
		zap.Float64("ceiling", st.Ceiling),
		zap.Uint64("successes", st.Successes),
		zap.Uint64("failures", st.Failures))
}

// classifyDomains prints one line per domain: domain, kind, exchange host.
func classifyDomains(ctx context.Context, c *classify.Classifier, domains []string, out io.Writer) error {
	cache := classify.NewCache()
	for _, d := range domains {
		r, err := c.Classify(ctx, d, cache)
		if err != nil {
			return err
		}
		host := r.Exchange
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", d, r.Kind, host)
	}
	return nil
}

// showCheckpoint prints the summary of the checkpoint at path.
func showCheckpoint(path string, out io.Writer) error {
	info, err := checkpoint.Describe(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Checkpoint:    %s\n", path)
	fmt.Fprintf(out, "Modified:      %s\n", info.Modified.Format(time.RFC3339))
	fmt.Fprintf(out, "Next index:    %d\n", info.NextIndex)
	fmt.Fprintf(out, "O365 results:  %d\n", info.Results)
	fmt.Fprintf(out, "Cached domains: %d (O365 %d, Other %d, No MX %d)\n", info.Cached, info.O365, info.Other, info.NoMX)
	return nil
}
