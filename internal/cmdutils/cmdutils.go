package cmdutils

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/config"
)

// BusinessFunc runs one command. Results go to out, logs go to the default
// logger.
type BusinessFunc func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error

// WrapperFunc prepares the process around a BusinessFunc.
type WrapperFunc func(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string, out io.Writer) error

func CobraCommand(
	use, short, long, buildInfo string,
	args cobra.PositionalArgs,
	wrapperFunc WrapperFunc,
	businessFunc BusinessFunc,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			err = wrapperFunc(cmd.Context(), businessFunc, cfg, args, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("running %s: %w", cmd.Name(), err)
			}

			return nil
		},
	}
}

// RunWithTelemetry exports metrics and traces of the controller calls.
func RunWithTelemetry(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string, out io.Writer) error {
	return run(ctx, true, fn, cfg, args, out)
}

func RunAsJob(ctx context.Context, fn BusinessFunc, cfg *config.Config, args []string, out io.Writer) error {
	return run(ctx, false, fn, cfg, args, out)
}

func run(ctx context.Context, withTelemetry bool, fn BusinessFunc, cfg *config.Config, args []string, out io.Writer) error {
	// LoggerConfig
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to initialise the logger")
	}
	slogctx.Debug(ctx, "Starting the application", slog.String("endpoint", cfg.Endpoint.Host))

	// OpenTelemetry
	if withTelemetry {
		err = otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger)
		if err != nil {
			return oops.In("main").Wrapf(err, "Failed to load the telemetry")
		}
	}

	// Business Logic
	err = fn(ctx, cfg, args, out)
	if err != nil {
		return oops.In("main").
			With("endpoint", cfg.Endpoint.Host).
			Wrapf(err, "Failed to run the command")
	}

	return nil
}

func loadConfig(buildInfo string) (*config.Config, error) {
	defaultValues := map[string]any{}
	cfg := &config.Config{}

	err := commoncfg.LoadConfig(
		cfg,
		defaultValues,
		"/etc/vmware-session",
		"$HOME/.vmware-session",
		".",
	)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	// Update Version
	err = commoncfg.UpdateConfigVersion(
		&cfg.BaseConfig,
		buildInfo,
	)
	if err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
