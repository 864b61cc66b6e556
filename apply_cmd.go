package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shashidharatd/tbfctl/apply"
	"github.com/shashidharatd/tbfctl/config"
	"github.com/shashidharatd/tbfctl/logger"
	"github.com/shashidharatd/tbfctl/metrics"
	"github.com/shashidharatd/tbfctl/netlink"
	"github.com/shashidharatd/tbfctl/qdisc"
)

// loadConfig reads the file and reconfigures logging from it. Log flags
// given on the command line win over the file.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	format, level := cfg.Log.Format, cfg.Log.Level
	if flags.Changed("log-format") {
		f, _ := flags.GetString("log-format")
		format = f
	}
	if flags.Changed("log-level") {
		l, _ := flags.GetString("log-level")
		level = logger.LogLevel(l)
	}
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = logger.FileWriter(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	}
	logger.Configure(w, format, level, cfg.Log.Components)

	logger.Component(logger.ComponentConfig).Debug("Loaded configuration", "path", path, "links", len(cfg.Links))
	return cfg, nil
}

func newApplyCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "apply -c <file>",
		Short: "Replace the qdiscs of every link in a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, path)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			a := apply.NewApplier(netlink.NewRateTable(netlink.HostClock()), m, logger.Component(logger.ComponentApply))
			_, applyErr := a.Apply(ctx, cfg)

			if cfg.Metrics.Textfile != "" {
				if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
					logger.Component(logger.ComponentMain).Error("Could not write metrics", "path", cfg.Metrics.Textfile, "error", err)
				}
			}
			return applyErr
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "/etc/tbfctl/tbfctl.yaml", "configuration file")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var (
		path string
		dump bool
	)

	cmd := &cobra.Command{
		Use:   "check -c <file>",
		Short: "Validate and encode a configuration file without applying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, path)
			if err != nil {
				return err
			}

			a := apply.NewApplier(netlink.NewRateTable(netlink.HostClock()), metrics.New(), logger.Component(logger.ComponentApply))
			return printPlan(cmd.OutOrStdout(), a.Plan(cfg), dump)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "/etc/tbfctl/tbfctl.yaml", "configuration file")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the encoded attribute block of each link")
	return cmd
}

func printPlan(w io.Writer, results []apply.Result, dump bool) error {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", res.AttachPoint, res.Err)
			continue
		}
		fmt.Fprintf(w, "%s handle %s %s\n", res.AttachPoint, qdisc.HandleString(res.Handle), res.Discipline)
		if dump {
			fmt.Fprint(w, hex.Dump(res.Block))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d links failed", failed, len(results))
	}
	return nil
}
