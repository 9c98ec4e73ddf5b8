package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/cmd/vmware-session/invoke"
	"github.com/openkcm/vmware-session/cmd/vmware-session/list"
	"github.com/openkcm/vmware-session/cmd/vmware-session/session"
	"github.com/openkcm/vmware-session/cmd/vmware-session/waitlease"
	"github.com/openkcm/vmware-session/cmd/vmware-session/waittask"
)

// BuildInfo will be set by the build system
var BuildInfo = "{}"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "vmware-session version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		value, err := utils.ExtractFromComplexValue(BuildInfo)
		if err != nil {
			return err
		}

		slog.InfoContext(cmd.Context(), value)

		return nil
	},
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vmware-session",
		Short:         "Controller session client",
		Long:          "Calls a virtualization controller with a managed session, retrying transient faults and waiting for tasks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		versionCmd,
		invoke.Cmd(BuildInfo),
		list.Cmd(BuildInfo),
		waittask.Cmd(BuildInfo),
		waitlease.Cmd(BuildInfo),
		session.Cmd(BuildInfo),
	)

	return cmd
}

func execute() error {
	// Commands log out on return, so a signal only cancels the context.
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelOnSignal()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "Command failed", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
