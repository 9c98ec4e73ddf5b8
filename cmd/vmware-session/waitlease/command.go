package waitlease

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkcm/vmware-session/internal/business"
	"github.com/openkcm/vmware-session/internal/cmdutils"
	"github.com/openkcm/vmware-session/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	var timeout time.Duration

	cmd := cmdutils.CobraCommand(
		"wait-lease <lease>",
		"Wait for an import or export lease",
		"Polls a lease until it is ready. A lease in error is reported with the fault the controller attached to it.",
		buildInfo,
		cobra.ExactArgs(1),
		cmdutils.RunWithTelemetry,
		func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
			if timeout > 0 {
				cfg.TaskPoll.Timeout = timeout
			}
			return business.WaitLeaseMain(ctx, cfg, args, out)
		},
	)

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (overrides taskPoll.timeout)")

	return cmd
}
