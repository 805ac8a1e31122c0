package reactor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"
)

var (
	ErrIncompleteRequest  = errors.New("unsigned transaction request is incomplete")
	ErrSimulationRejected = errors.New("bundle simulation rejected")
	ErrBundleNotIncluded  = errors.New("bundle was not included in target block")
	ErrNoRelays           = errors.New("no relays configured")
	ErrEmptyBundle        = errors.New("bundle has no transactions")
)

const (
	CallBundleEndpointName = "eth_callBundle"
	SendBundleEndpointName = "eth_sendBundle"
)

// EventKind tags the payload carried by an Event
type EventKind uint8

const (
	EventBlock EventKind = iota + 1
	EventPendingTx
	EventLog
)

func (k EventKind) String() string {
	switch k {
	case EventBlock:
		return "block"
	case EventPendingTx:
		return "pending_tx"
	case EventLog:
		return "log"
	default:
		return "unknown"
	}
}

// Event is shared read-only by every subscriber once published.
// Exactly one of Header, Tx, Log is set, according to Kind.
type Event struct {
	Kind   EventKind
	Header *types.Header
	Tx     *PendingTx
	Log    *types.Log
}

func NewBlockEvent(header *types.Header) Event {
	return Event{Kind: EventBlock, Header: header}
}

func NewPendingTxEvent(tx *PendingTx) Event {
	return Event{Kind: EventPendingTx, Tx: tx}
}

func NewLogEvent(log *types.Log) Event {
	return Event{Kind: EventLog, Log: log}
}

// PendingTx is a snapshot of a transaction seen in the mempool together with its recovered sender
type PendingTx struct {
	Tx   *types.Transaction
	From common.Address
}

func (p *PendingTx) Hash() common.Hash {
	return p.Tx.Hash()
}

// UnsignedTxRequest is an EIP-1559 transaction waiting for a signature.
// Every pointer field must be set before signing.
type UnsignedTxRequest struct {
	To                   *common.Address
	Data                 []byte
	Value                *big.Int
	GasLimit             uint64
	Nonce                *uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	ChainID              *big.Int
}

// SignedTx is an opaque, RLP encoded signed transaction
type SignedTx hexutil.Bytes

// Bundle is an ordered set of signed transactions targeting exactly one block
type Bundle struct {
	Txs                 []SignedTx
	TargetBlock         uint64
	SimulationBlock     uint64
	SimulationTimestamp uint64
}

// NewBundle returns an empty bundle simulated on top of simulationBlock and targeting the block after it
func NewBundle(simulationBlock uint64) *Bundle {
	return &Bundle{
		TargetBlock:     simulationBlock + 1,
		SimulationBlock: simulationBlock,
	}
}

// Push appends a transaction, order is preserved until broadcast
func (b *Bundle) Push(tx SignedTx) *Bundle {
	b.Txs = append(b.Txs, tx)
	return b
}

// TxHashes returns hashes of the bundle transactions in bundle order
func (b *Bundle) TxHashes() ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, len(b.Txs))
	for _, raw := range b.Txs {
		var tx types.Transaction
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		hashes = append(hashes, tx.Hash())
	}
	return hashes, nil
}

// Hash identifies the bundle locally: keccak256 over the ordered transaction hashes
func (b *Bundle) Hash() (common.Hash, error) {
	hashes, err := b.TxHashes()
	if err != nil {
		return common.Hash{}, err
	}
	hasher := sha3.NewLegacyKeccak256()
	for _, h := range hashes {
		hasher.Write(h[:])
	}
	return common.BytesToHash(hasher.Sum(nil)), nil
}

func (b *Bundle) rawTxs() []hexutil.Bytes {
	txs := make([]hexutil.Bytes, len(b.Txs))
	for i, tx := range b.Txs {
		txs[i] = hexutil.Bytes(tx)
	}
	return txs
}

// CallBundleArgs are the parameters of eth_callBundle
type CallBundleArgs struct {
	Txs              []hexutil.Bytes `json:"txs"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	StateBlockNumber hexutil.Uint64  `json:"stateBlockNumber"`
	Timestamp        *hexutil.Uint64 `json:"timestamp,omitempty"`
}

// SendBundleArgs are the parameters of eth_sendBundle
type SendBundleArgs struct {
	Txs          []hexutil.Bytes `json:"txs"`
	BlockNumber  hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp *hexutil.Uint64 `json:"minTimestamp,omitempty"`
	MaxTimestamp *hexutil.Uint64 `json:"maxTimestamp,omitempty"`
}

type SendBundleResponse struct {
	BundleHash common.Hash `json:"bundleHash"`
}

// SimulationResult is the response of eth_callBundle, amounts are decimal wei strings
type SimulationResult struct {
	BundleHash       common.Hash   `json:"bundleHash"`
	BundleGasPrice   string        `json:"bundleGasPrice,omitempty"`
	CoinbaseDiff     string        `json:"coinbaseDiff,omitempty"`
	StateBlockNumber uint64        `json:"stateBlockNumber"`
	TotalGasUsed     uint64        `json:"totalGasUsed"`
	Results          []TxSimResult `json:"results"`
}

type TxSimResult struct {
	TxHash   common.Hash `json:"txHash"`
	GasUsed  uint64      `json:"gasUsed"`
	GasPrice string      `json:"gasPrice,omitempty"`
	Error    string      `json:"error,omitempty"`
	Revert   string      `json:"revert,omitempty"`
}

// Failed reports the first transaction that errored or reverted, if any
func (r *SimulationResult) Failed() (TxSimResult, bool) {
	for _, res := range r.Results {
		if res.Error != "" || res.Revert != "" {
			return res, true
		}
	}
	return TxSimResult{}, false
}

// OutcomeStatus classifies the end state of a submission
type OutcomeStatus uint8

const (
	OutcomeIncluded OutcomeStatus = iota + 1
	OutcomeNotIncluded
	OutcomeRelayError
	OutcomeSimulationRejected
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeIncluded:
		return "included"
	case OutcomeNotIncluded:
		return "not_included"
	case OutcomeRelayError:
		return "relay_error"
	case OutcomeSimulationRejected:
		return "simulation_rejected"
	default:
		return "unknown"
	}
}

func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OutcomeStatus) UnmarshalText(text []byte) error {
	for _, status := range []OutcomeStatus{OutcomeIncluded, OutcomeNotIncluded, OutcomeRelayError, OutcomeSimulationRejected} {
		if status.String() == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown outcome status %q", text)
}

// SubmissionOutcome is the aggregated result of simulating and broadcasting one bundle
type SubmissionOutcome struct {
	Status      OutcomeStatus `json:"status"`
	TargetBlock uint64        `json:"targetBlock"`
	BundleHash  common.Hash   `json:"bundleHash"`
	Relay       string        `json:"relay,omitempty"`
	Trigger     common.Hash   `json:"trigger"`
	Err         error         `json:"-"`
	ErrMessage  string        `json:"error,omitempty"`
}

func (o *SubmissionOutcome) Included() bool {
	return o.Status == OutcomeIncluded
}
