package reactor

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

var (
	ErrNoBaseFee   = errors.New("anchor header has no base fee")
	ErrNoGasTarget = errors.New("anchor header has no gas target")
)

// londonConfig has London active from genesis, the base fee of every block follows EIP-1559
var londonConfig = &params.ChainConfig{
	ChainID:     big.NewInt(1),
	LondonBlock: big.NewInt(0),
}

// NextBaseFee computes the base fee of the block built on top of anchor
func NextBaseFee(anchor *types.Header) (*big.Int, error) {
	if anchor == nil || anchor.BaseFee == nil {
		return nil, ErrNoBaseFee
	}
	if anchor.GasLimit/londonConfig.ElasticityMultiplier() == 0 {
		return nil, ErrNoGasTarget
	}
	return eip1559.CalcBaseFee(londonConfig, anchor), nil
}

// FeeCaps returns maxFeePerGas and maxPriorityFeePerGas for a transaction included right after anchor
func FeeCaps(anchor *types.Header, priorityFee *big.Int) (maxFee, tip *big.Int, err error) {
	baseFee, err := NextBaseFee(anchor)
	if err != nil {
		return nil, nil, err
	}
	tip = new(big.Int).Set(priorityFee)
	maxFee = new(big.Int).Add(baseFee, tip)
	return maxFee, tip, nil
}
