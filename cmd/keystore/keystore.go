package keystore

import (
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/spf13/cobra"
)

const (
	accountFlag = "account"
	minPassword = 8
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("keystore",
		newCreate(),
		newAddress(),
	)
}
