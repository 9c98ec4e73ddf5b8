package list

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/vmware-session/internal/business"
	"github.com/openkcm/vmware-session/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"list <type> [property...]",
		"List managed objects",
		"Reads every managed object of a type from the inventory, page by page, and prints the requested properties. "+
			"Without properties only the name is read.",
		buildInfo,
		cobra.MinimumNArgs(1),
		cmdutils.RunWithTelemetry,
		business.ListMain,
	)
}
