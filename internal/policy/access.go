package policy

import (
	"github.com/ethereum/go-ethereum/common"
)

// Credential is the kind of key that authorized an inbound call.
type Credential int

const (
	CredentialNone Credential = iota
	CredentialOwner
	CredentialAutomation
)

func (c Credential) String() string {
	switch c {
	case CredentialOwner:
		return "owner"
	case CredentialAutomation:
		return "automation"
	default:
		return "none"
	}
}

// Caller is carried alongside every call into the account.
type Caller struct {
	Kind    Credential
	Address common.Address
}

func Owner(addr common.Address) Caller      { return Caller{Kind: CredentialOwner, Address: addr} }
func Automation(addr common.Address) Caller { return Caller{Kind: CredentialAutomation, Address: addr} }

// Operation names match the method names of the selector surface.
type Operation string

const (
	OpConfigureThreshold      Operation = "configureThreshold"
	OpSetAutomationCredential Operation = "setAutomationKey"
	OpAllowAdapter            Operation = "allowAdapter"
	OpSpendWithAutoSource     Operation = "spendWithAutoSource"
	OpRebalance               Operation = "rebalance"
	OpMigrate                 Operation = "migrate"
	OpFlush                   Operation = "flush"
)

type Access int

const (
	AccessOwner Access = iota
	AccessOwnerOrAutomation
)

// operationAccess is the single table deciding which credential may reach
// which operation. Anything missing here is not callable.
var operationAccess = map[Operation]Access{
	OpConfigureThreshold:      AccessOwner,
	OpSetAutomationCredential: AccessOwner,
	OpAllowAdapter:            AccessOwner,
	OpSpendWithAutoSource:     AccessOwner,
	OpRebalance:               AccessOwnerOrAutomation,
	OpMigrate:                 AccessOwnerOrAutomation,
	OpFlush:                   AccessOwner,
}

// Allowed reports whether a credential kind may invoke op.
func Allowed(op Operation, kind Credential) bool {
	access, ok := operationAccess[op]
	if !ok {
		return false
	}

	switch kind {
	case CredentialOwner:
		return true
	case CredentialAutomation:
		return access == AccessOwnerOrAutomation
	default:
		return false
	}
}

// Operations lists every callable operation.
func Operations() []Operation {
	return []Operation{
		OpConfigureThreshold,
		OpSetAutomationCredential,
		OpAllowAdapter,
		OpSpendWithAutoSource,
		OpRebalance,
		OpMigrate,
		OpFlush,
	}
}
