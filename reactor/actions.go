package reactor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Selector is the first 4 bytes of a transaction input
type Selector [4]byte

func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// Action enumerates the on-chain operations the reactor recognizes
type Action uint8

const (
	ActionUnknown Action = iota
	ActionUnstake
	ActionTransferFrom
)

var (
	// unstake(uint256)
	SelectorUnstake = Selector{0x2e, 0x17, 0xde, 0x78}
	// transferFrom(address,address,uint256)
	SelectorTransferFrom = Selector{0x23, 0xb8, 0x72, 0xdd}

	actionsBySelector = map[Selector]Action{
		SelectorUnstake:      ActionUnstake,
		SelectorTransferFrom: ActionTransferFrom,
	}
)

func (a Action) String() string {
	switch a {
	case ActionUnstake:
		return "unstake"
	case ActionTransferFrom:
		return "transferFrom"
	default:
		return "unknown"
	}
}

// Classify looks the selector of input up in the action table.
// Inputs shorter than a selector are unrecognized.
func Classify(input []byte) (Action, Selector) {
	var sel Selector
	if len(input) < len(sel) {
		return ActionUnknown, sel
	}
	copy(sel[:], input[:4])
	return actionsBySelector[sel], sel
}

// watches reports whether a call of this action sent to `to` is decoded and logged.
// Every token transferFrom is watched, unstake only on the staking contract.
func (a Action) watches(cfg *Config, to *common.Address) bool {
	if to == nil {
		return false
	}
	switch a {
	case ActionUnstake:
		return *to == cfg.StakingContract
	case ActionTransferFrom:
		return true
	default:
		return false
	}
}

// targets reports whether a call of this action sent to `to` should be answered
func (a Action) targets(cfg *Config, to *common.Address) bool {
	if to == nil {
		return false
	}
	switch a {
	case ActionUnstake:
		return *to == cfg.StakingContract
	case ActionTransferFrom:
		return cfg.watchesToken(*to)
	default:
		return false
	}
}

// Trigger is a recognized and decoded pending transaction
type Trigger struct {
	Action Action
	Tx     *PendingTx
	Call   *DecodedCall
}

func (t *Trigger) Hash() common.Hash {
	return t.Tx.Hash()
}

// ResponseCall is a transaction the reactor sends in answer to a trigger
type ResponseCall struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// PlanResponse returns the calls sent in answer to trigger, in bundle order
func PlanResponse(cfg *Config, sender common.Address, trigger *Trigger) []ResponseCall {
	switch trigger.Action {
	case ActionUnstake, ActionTransferFrom:
	default:
		return nil
	}

	to := sender
	if cfg.Response.To != nil {
		to = *cfg.Response.To
	}
	gasLimit := cfg.Response.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultResponseGasLimit
	}
	value := new(big.Int)
	if cfg.Response.Value != nil {
		value.Set(cfg.Response.Value)
	}
	return []ResponseCall{{
		To:       to,
		Data:     common.CopyBytes(cfg.Response.Data),
		Value:    value,
		GasLimit: gasLimit,
	}}
}
