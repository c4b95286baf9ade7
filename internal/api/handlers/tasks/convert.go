package tasks

import (
	"strings"
	"time"

	"github/chapool/go-autoyield/internal/scheduler"
	"github/chapool/go-autoyield/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
)

func taskToResponse(t *scheduler.Task) *types.Task {
	id := strfmt.UUID4(t.ID.String())
	next := strfmt.DateTime(t.NextRunAt)

	res := &types.Task{
		ID:                &id,
		Account:           swag.String(t.Account.Hex()),
		Token:             swag.String(t.Token.Hex()),
		IntervalSeconds:   swag.Int64(int64(t.Interval / time.Second)),
		Action:            swag.String(string(t.Action)),
		Enabled:           swag.Bool(t.Enabled),
		NextRunAt:         &next,
		ConsecutiveErrors: swag.Int64(int64(t.ConsecutiveErrors)),
		LastError:         t.LastError,
	}

	if !t.LastRunAt.IsZero() {
		last := strfmt.DateTime(t.LastRunAt)
		res.LastRunAt = &last
	}

	if t.LastOperationHash != (common.Hash{}) {
		res.LastOperationHash = strings.ToLower(t.LastOperationHash.Hex())
	}

	return res
}
