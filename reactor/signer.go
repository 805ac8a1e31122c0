package reactor

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the transaction sender key, nothing else in the process sees it
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

// NewSigner parses a hex private key (with or without 0x prefix)
func NewSigner(hexKey string, chainID *big.Int) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid sender key: %w", err)
	}
	return NewSignerFromKey(key, chainID), nil
}

func NewSignerFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
	}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign produces a signed EIP-1559 transaction, every field of req must be resolved
func (s *Signer) Sign(req UnsignedTxRequest) (SignedTx, error) {
	if req.ChainID == nil || req.Nonce == nil || req.GasLimit == 0 ||
		req.MaxFeePerGas == nil || req.MaxPriorityFeePerGas == nil {
		return nil, ErrIncompleteRequest
	}
	if req.ChainID.Cmp(s.chainID) != 0 {
		return nil, fmt.Errorf("%w: chain id %s, signer is for %s", ErrIncompleteRequest, req.ChainID, s.chainID)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   req.ChainID,
		Nonce:     *req.Nonce,
		GasTipCap: req.MaxPriorityFeePerGas,
		GasFeeCap: req.MaxFeePerGas,
		Gas:       req.GasLimit,
		To:        req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return raw, nil
}
