package session

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/vmware-session/internal/business"
	"github.com/openkcm/vmware-session/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or end the controller session",
	}

	cmd.AddCommand(
		cmdutils.CobraCommand(
			"check",
			"Check that the session is accepted",
			"Logs in if there is no session yet and asks the controller whether the session is still active.",
			buildInfo,
			cobra.NoArgs,
			cmdutils.RunAsJob,
			business.SessionCheckMain,
		),
		cmdutils.CobraCommand(
			"logout",
			"End the session",
			"Logs out of the controller. A session published in valkey is removed from the store as well.",
			buildInfo,
			cobra.NoArgs,
			cmdutils.RunAsJob,
			business.SessionLogoutMain,
		),
	)

	return cmd
}
