package reactor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func unstakeInput(amount int64) []byte {
	return append(SelectorUnstake[:], common.LeftPadBytes(big.NewInt(amount).Bytes(), 32)...)
}

func transferFromInput(src, dst common.Address, wad int64) []byte {
	input := append([]byte{}, SelectorTransferFrom[:]...)
	input = append(input, common.LeftPadBytes(src.Bytes(), 32)...)
	input = append(input, common.LeftPadBytes(dst.Bytes(), 32)...)
	return append(input, common.LeftPadBytes(big.NewInt(wad).Bytes(), 32)...)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		action Action
	}{
		{"empty input", nil, ActionUnknown},
		{"shorter than selector", hexutil.MustDecode("0x2e17de"), ActionUnknown},
		{"bare unstake selector", SelectorUnstake[:], ActionUnstake},
		{"unstake", unstakeInput(1000), ActionUnstake},
		{"transferFrom", transferFromInput(common.Address{1}, common.Address{2}, 3), ActionTransferFrom},
		{"unknown selector", hexutil.MustDecode("0xa9059cbb0000"), ActionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _ := Classify(tt.input)
			require.Equal(t, tt.action, action)
		})
	}

	_, sel := Classify(unstakeInput(1))
	require.Equal(t, "0x2e17de78", sel.String())
}

func TestABIDecoder(t *testing.T) {
	decoder, err := NewABIDecoder()
	require.NoError(t, err)

	call, err := decoder.Decode(SelectorUnstake, unstakeInput(1000)[4:])
	require.NoError(t, err)
	require.Equal(t, "unstake", call.Method)
	amount, ok := call.Uint("amount")
	require.True(t, ok)
	require.Equal(t, big.NewInt(1000), amount)

	src := common.HexToAddress("0x1111111111111111111111111111111111111111")
	dst := common.HexToAddress("0x2222222222222222222222222222222222222222")
	call, err = decoder.Decode(SelectorTransferFrom, transferFromInput(src, dst, 42)[4:])
	require.NoError(t, err)
	require.Equal(t, "transferFrom", call.Method)
	gotSrc, ok := call.Address("src")
	require.True(t, ok)
	require.Equal(t, src, gotSrc)
	gotDst, _ := call.Address("dst")
	require.Equal(t, dst, gotDst)
	wad, _ := call.Uint("wad")
	require.Equal(t, big.NewInt(42), wad)
}

func TestABIDecoderUndecodable(t *testing.T) {
	decoder, err := NewABIDecoder()
	require.NoError(t, err)

	_, err = decoder.Decode(SelectorUnstake, nil)
	require.ErrorIs(t, err, ErrUndecodable)

	_, err = decoder.Decode(SelectorTransferFrom, make([]byte, 40))
	require.ErrorIs(t, err, ErrUndecodable)

	_, err = decoder.Decode(Selector{0xde, 0xad, 0xbe, 0xef}, make([]byte, 32))
	require.ErrorIs(t, err, ErrUndecodable)
}

func TestActionTargets(t *testing.T) {
	staking := DefaultStakingContract
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	cfg := &Config{StakingContract: staking, WatchedTokens: []common.Address{token}}

	require.True(t, ActionUnstake.targets(cfg, &staking))
	require.False(t, ActionUnstake.targets(cfg, &other))
	require.False(t, ActionUnstake.targets(cfg, nil))
	require.True(t, ActionTransferFrom.targets(cfg, &token))
	require.False(t, ActionTransferFrom.targets(cfg, &other))
	require.False(t, ActionUnknown.targets(cfg, &staking))

	require.True(t, ActionUnstake.watches(cfg, &staking))
	require.False(t, ActionUnstake.watches(cfg, &other))
	require.True(t, ActionTransferFrom.watches(cfg, &other))
	require.False(t, ActionTransferFrom.watches(cfg, nil))
	require.False(t, ActionUnknown.watches(cfg, &staking))
}

func TestPlanResponse(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	trigger := &Trigger{Action: ActionUnstake}

	calls := PlanResponse(&Config{}, sender, trigger)
	require.Len(t, calls, 1)
	require.Equal(t, sender, calls[0].To)
	require.Equal(t, DefaultResponseGasLimit, calls[0].GasLimit)
	require.Equal(t, 0, calls[0].Value.Sign())

	to := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	cfg := &Config{Response: ResponseConfig{To: &to, Data: []byte{1}, Value: big.NewInt(3), GasLimit: 50_000}}
	calls = PlanResponse(cfg, sender, trigger)
	require.Len(t, calls, 1)
	require.Equal(t, to, calls[0].To)
	require.Equal(t, []byte{1}, calls[0].Data)
	require.Equal(t, big.NewInt(3), calls[0].Value)
	require.Equal(t, uint64(50_000), calls[0].GasLimit)

	require.Empty(t, PlanResponse(cfg, sender, &Trigger{Action: ActionUnknown}))
}
