package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"semaforo/internal/alerts"
	"semaforo/internal/config"
	"semaforo/internal/kafka"
	"semaforo/internal/logger"
	"semaforo/internal/models"
	"semaforo/internal/processor"
	"semaforo/internal/storage"
)

type options struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func rootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "semaforo",
		Short:         "Fleet maintenance threshold alerting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override app.log_level")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// evaluate runs offline and needs no configuration
		if cmd.Name() == "evaluate" {
			return nil
		}

		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		if opts.logLevel != "" {
			cfg.App.LogLevel = opts.logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger.Init(cfg.App.LogLevel, cfg.App.Env)
		opts.cfg = cfg
		return nil
	}

	root.AddCommand(
		serveCommand(opts),
		migrateCommand(opts),
		evaluateCommand(),
		auditCommand(opts),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the audit pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return processor.New(opts.cfg).Run(ctx)
		},
	}
}

func migrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Storage.Backend == "memory" {
				return fmt.Errorf("storage backend %q has no schema", opts.cfg.Storage.Backend)
			}
			store, err := storage.New(opts.cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", opts.cfg.Storage.Backend)
			return nil
		},
	}
}

func evaluateCommand() *cobra.Command {
	var (
		unit      string
		limit     float64
		usage     float64
		b         models.Boundaries
		remaining float64
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade a remaining margin against a threshold config",
		Example: `  semaforo evaluate --limit 1000 --usage 980 --purple 50 --red 50 --orange 30 --yellow 20
  semaforo evaluate --remaining -5 --red 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Without its own cutoff purple shares red's and folds into it.
			if !cmd.Flags().Changed("purple") {
				b.Purple = b.Red
			}
			cfg, err := models.NewThresholdConfig(models.Unit(unit), limit, b, nil)
			if err != nil {
				return err
			}

			r := limit - usage
			if cmd.Flags().Changed("remaining") {
				r = remaining
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(alerts.Evaluate(r, cfg))
		},
	}

	f := cmd.Flags()
	f.StringVar(&unit, "unit", string(models.UnitHours), "usage unit (HOURS, CYCLES, CALENDAR_DAYS)")
	f.Float64Var(&limit, "limit", 0, "tracked limit")
	f.Float64Var(&usage, "usage", 0, "current usage")
	f.Float64Var(&remaining, "remaining", 0, "remaining margin, overrides limit minus usage")
	f.IntVar(&b.Purple, "purple", 0, "purple boundary (defaults to the red boundary)")
	f.IntVar(&b.Red, "red", 0, "red boundary")
	f.IntVar(&b.Orange, "orange", 0, "orange boundary")
	f.IntVar(&b.Yellow, "yellow", 0, "yellow boundary")
	f.IntVar(&b.Green, "green", 0, "green boundary")
	return cmd
}

func auditCommand(opts *options) *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit topic",
	}

	var group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print audit events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			consumer, err := kafka.NewConsumer(opts.cfg.Kafka.Brokers, opts.cfg.Kafka.Topic, group)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signalContext()
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return consumer.Run(ctx, func(e *models.AuditEvent) error {
				return enc.Encode(e)
			})
		},
	}
	tail.Flags().StringVar(&group, "group", "", "consumer group; empty reads new events without committing")

	audit.AddCommand(tail)
	return audit
}
