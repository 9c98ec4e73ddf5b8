package invoke

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/vmware-session/internal/business"
	"github.com/openkcm/vmware-session/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"invoke <method> [Type:value|-] [json-args]",
		"Call a controller method",
		"Calls a controller method on a managed object with the current session and prints the JSON result. "+
			"Transient faults are retried and a rejected session is replaced by a new login.",
		buildInfo,
		cobra.RangeArgs(1, 3),
		cmdutils.RunWithTelemetry,
		business.InvokeMain,
	)
}
