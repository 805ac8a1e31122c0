package reactor

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrUndecodable = errors.New("calldata can not be decoded")

// CalldataDecoder decodes call arguments of a recognized selector.
// data is the transaction input without the selector.
type CalldataDecoder interface {
	Decode(selector Selector, data []byte) (*DecodedCall, error)
}

type DecodedCall struct {
	Method string
	Args   map[string]interface{}
}

// Uint returns a uint256 argument
func (c *DecodedCall) Uint(name string) (*big.Int, bool) {
	v, ok := c.Args[name].(*big.Int)
	return v, ok
}

func (c *DecodedCall) Address(name string) (common.Address, bool) {
	v, ok := c.Args[name].(common.Address)
	return v, ok
}

const actionsABI = `[
	{"type":"function","name":"unstake","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"src","type":"address"},{"name":"dst","type":"address"},{"name":"wad","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ABIDecoder decodes calldata of every recognized action using its solidity signature
type ABIDecoder struct {
	abi abi.ABI
}

func NewABIDecoder() (*ABIDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(actionsABI))
	if err != nil {
		return nil, err
	}
	return &ABIDecoder{abi: parsed}, nil
}

func (d *ABIDecoder) Decode(selector Selector, data []byte) (*DecodedCall, error) {
	method, err := d.abi.MethodById(selector[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUndecodable, err.Error())
	}

	args := make(map[string]interface{}, len(method.Inputs))
	if err := method.Inputs.UnpackIntoMap(args, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUndecodable, method.Name, err.Error())
	}
	return &DecodedCall{
		Method: method.Name,
		Args:   args,
	}, nil
}
