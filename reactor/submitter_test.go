package reactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRelay struct {
	name    string
	sim     *SimulationResult
	simErr  error
	sendErr error
	// release blocks SendBundle until closed when set
	release chan struct{}

	mu    sync.Mutex
	calls int
	sent  []*Bundle
}

func (r *fakeRelay) Name() string {
	return r.name
}

func (r *fakeRelay) CallBundle(ctx context.Context, bundle *Bundle) (*SimulationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.simErr != nil {
		return nil, r.simErr
	}
	if r.sim != nil {
		return r.sim, nil
	}
	return &SimulationResult{Results: []TxSimResult{{TxHash: common.HexToHash("0x01")}}}, nil
}

func (r *fakeRelay) SendBundle(ctx context.Context, bundle *Bundle) (*SendBundleResponse, error) {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, bundle)
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	return &SendBundleResponse{BundleHash: common.HexToHash("0xb0")}, nil
}

func (r *fakeRelay) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fakeInclusion struct {
	err error
}

func (f *fakeInclusion) WaitForInclusion(ctx context.Context, bundle *Bundle) error {
	return f.err
}

func newTestSubmitter(inclusion InclusionChecker, wg *sync.WaitGroup, relays ...*fakeRelay) *BundleSubmitter {
	set := Relays{Simulator: relays[0]}
	for _, r := range relays {
		set.All = append(set.All, r)
	}
	return NewBundleSubmitter(zap.NewNop(), set, inclusion, time.Second, wg)
}

func TestSubmitterRejectedSimulationIsNeverBroadcast(t *testing.T) {
	tests := []struct {
		name string
		sim  *SimulationResult
		err  error
	}{
		{
			name: "revert",
			sim: &SimulationResult{Results: []TxSimResult{
				{TxHash: common.HexToHash("0x01")},
				{TxHash: common.HexToHash("0x02"), Revert: "execution reverted"},
			}},
		},
		{
			name: "error",
			sim:  &SimulationResult{Results: []TxSimResult{{TxHash: common.HexToHash("0x01"), Error: "nonce too low"}}},
		},
		{
			name: "transport",
			err:  errors.New("connection refused"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wg := &sync.WaitGroup{}
			sim := &fakeRelay{name: "sim", sim: tt.sim, simErr: tt.err}
			other := &fakeRelay{name: "other"}
			submitter := newTestSubmitter(&fakeInclusion{}, wg, sim, other)

			outcome := submitter.Submit(testBundle(t))
			wg.Wait()

			require.Equal(t, OutcomeSimulationRejected, outcome.Status)
			require.ErrorIs(t, outcome.Err, ErrSimulationRejected)
			require.Equal(t, 0, sim.sentCount())
			require.Equal(t, 0, other.sentCount())
		})
	}
}

func TestSubmitterFirstInclusionWins(t *testing.T) {
	wg := &sync.WaitGroup{}
	fast := &fakeRelay{name: "fast"}
	slow := &fakeRelay{name: "slow", release: make(chan struct{}), sendErr: errors.New("late failure")}
	submitter := newTestSubmitter(&fakeInclusion{}, wg, fast, slow)

	bundle := testBundle(t)
	outcome := submitter.Submit(bundle)
	require.True(t, outcome.Included())
	require.Equal(t, "fast", outcome.Relay)
	require.Equal(t, bundle.TargetBlock, outcome.TargetBlock)
	require.Equal(t, common.HexToHash("0xb0"), outcome.BundleHash)
	require.NoError(t, outcome.Err)

	// the slow relay is still drained in the background
	require.Equal(t, 0, slow.sentCount())
	close(slow.release)
	wg.Wait()
	require.Equal(t, 1, slow.sentCount())
}

func TestSubmitterAllRelaysFail(t *testing.T) {
	errA := errors.New("relay a down")
	errB := errors.New("relay b down")
	wg := &sync.WaitGroup{}
	a := &fakeRelay{name: "a", sendErr: errA}
	b := &fakeRelay{name: "b", sendErr: errB}
	submitter := newTestSubmitter(&fakeInclusion{}, wg, a, b)

	outcome := submitter.Submit(testBundle(t))
	wg.Wait()

	require.False(t, outcome.Included())
	require.Equal(t, OutcomeRelayError, outcome.Status)
	require.ErrorIs(t, outcome.Err, errA)
	require.ErrorIs(t, outcome.Err, errB)
	require.NotEmpty(t, outcome.ErrMessage)
}

func TestSubmitterNotIncluded(t *testing.T) {
	wg := &sync.WaitGroup{}
	a := &fakeRelay{name: "a"}
	b := &fakeRelay{name: "b", sendErr: errors.New("rejected")}
	submitter := newTestSubmitter(&fakeInclusion{err: ErrBundleNotIncluded}, wg, a, b)

	outcome := submitter.Submit(testBundle(t))
	wg.Wait()

	require.Equal(t, OutcomeNotIncluded, outcome.Status)
	require.ErrorIs(t, outcome.Err, ErrBundleNotIncluded)
	require.Equal(t, 1, a.sentCount())
	require.Equal(t, 1, b.sentCount())
}

func TestSubmitterNoRelays(t *testing.T) {
	submitter := NewBundleSubmitter(zap.NewNop(), Relays{}, &fakeInclusion{}, time.Second, &sync.WaitGroup{})
	outcome := submitter.Submit(testBundle(t))
	require.ErrorIs(t, outcome.Err, ErrNoRelays)
}

func TestInclusionWatcher(t *testing.T) {
	node := newFakeNode()
	watcher := NewInclusionWatcher(zap.NewNop(), NewBlockFetcher(node))

	txA := signedTx(0, common.Address{1}, nil)
	txB := signedTx(1, common.Address{2}, nil)
	bundle := NewBundle(100)
	for _, tx := range []*types.Transaction{txA, txB} {
		raw, err := tx.MarshalBinary()
		require.NoError(t, err)
		bundle.Push(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := watcher.WaitForInclusion(ctx, bundle)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(100 * time.Millisecond)
		node.addBlock(blockWith(101, signedTx(5, common.Address{9}, nil), txA, txB))
	}()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, watcher.WaitForInclusion(ctx, bundle))

	partial := NewBundle(101)
	rawA, err := txA.MarshalBinary()
	require.NoError(t, err)
	rawC, err := signedTx(2, common.Address{3}, nil).MarshalBinary()
	require.NoError(t, err)
	partial.Push(rawA).Push(rawC)
	node.addBlock(blockWith(102, txA))
	require.ErrorIs(t, watcher.WaitForInclusion(ctx, partial), ErrBundleNotIncluded)
}
