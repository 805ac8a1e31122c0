// Package reactor implements the mempool reactor
// Here is a full flow of data through the reactor:
//
// node -> PendingTxStream, BlockStream publish events on the Bus
// Bus -> Dispatcher receives every event
//
//	Dispatcher -> Action classifies pending transactions by function selector
//	Dispatcher -> CalldataDecoder decodes arguments of recognized actions
//	Dispatcher -> Responder is called with the decoded trigger in its own goroutine
//
// Responder -> BundleBuilder resolves nonce and fees and asks Signer for signatures
// Responder -> BundleSubmitter simulates the bundle and broadcasts it to all relays
// BundleSubmitter -> InclusionWatcher resolves every accepted submission to included or not included
// Responder -> OutcomeNotifier is used to publish the outcome (optional)
package reactor

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

const (
	DefaultResponseGasLimit    uint64 = 30_000
	DefaultBusBuffer                  = 1024
	DefaultPendingTxFetchers          = 256
	DefaultSubmissionTimeout          = 24 * time.Second
	DefaultSeenTxCacheSize            = 100_000
	DefaultBlockCacheTime             = 2 * time.Minute
	DefaultRelayRequestTimeout        = 4 * time.Second
)

var (
	DefaultPriorityFee = big.NewInt(2 * params.GWei)
	// DefaultStakingContract is the staking contract whose unstake calls are answered
	DefaultStakingContract = common.HexToAddress("0xBc10f2E862ED4502144c7d632a3459F49DFCDB5e")
)

// Config is built once at startup and shared read-only by every component
type Config struct {
	ChainID     *big.Int
	PriorityFee *big.Int

	StakingContract common.Address
	// transferFrom calls on these tokens are answered, calls on other tokens are only logged
	WatchedTokens []common.Address

	Response ResponseConfig
	// Backrun puts the trigger transaction in front of the response transactions
	Backrun bool
	// Paused classifies and logs triggers without building bundles
	Paused bool

	SimulationTimestamp uint64
	SubmissionTimeout   time.Duration
}

// ResponseConfig describes the transaction sent in response to a trigger
type ResponseConfig struct {
	// To defaults to the sender address
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

func (c *Config) watchesToken(token common.Address) bool {
	for _, t := range c.WatchedTokens {
		if t == token {
			return true
		}
	}
	return false
}
