package probe

import (
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/spf13/cobra"
)

const (
	verboseFlag string = "verbose"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newChain(),
		newRelay(),
	)
}
