package userop

import (
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	accountFlag = "account"
	tokenFlag   = "token"
	adapterFlag = "adapter"
	actionFlag  = "action"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("userop",
		newStatus(),
		newSend(),
		newTick(),
	)
}

func parseAddress(flag, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.Errorf("invalid --%s %q", flag, value)
	}
	return common.HexToAddress(value), nil
}
