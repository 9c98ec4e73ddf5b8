package waittask

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
		"wait-task <task>",
		"Wait for a controller task",
		"Polls a task until it succeeds or fails and prints its final status. "+
			"The task is given as Task:value or as a bare value.",
		buildInfo,
		cobra.ExactArgs(1),
		cmdutils.RunWithTelemetry,
		func(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
			if timeout > 0 {
				cfg.TaskPoll.Timeout = timeout
			}
			return business.WaitTaskMain(ctx, cfg, args, out)
		},
	)

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (overrides taskPoll.timeout)")

	return cmd
}
