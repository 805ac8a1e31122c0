package reactor

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ybbus/jsonrpc/v3"
	"golang.org/x/time/rate"
)

const FlashbotsSignatureHeader = "X-Flashbots-Signature"

// RelayBackend is a block-production endpoint accepting private bundles
type RelayBackend interface {
	Name() string
	CallBundle(ctx context.Context, bundle *Bundle) (*SimulationResult, error)
	SendBundle(ctx context.Context, bundle *Bundle) (*SendBundleResponse, error)
}

// FlashbotsSignature signs the request body the way relays authenticate searchers:
// address:signature of the text hash of the hex encoded keccak of body
func FlashbotsSignature(body []byte, key *ecdsa.PrivateKey) (string, error) {
	hashHex := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashHex)), key)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex() + ":" + hexutil.Encode(sig), nil
}

// signingTransport adds the flashbots signature header to every request
type signingTransport struct {
	key  *ecdsa.PrivateKey
	base http.RoundTripper
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	sig, err := FlashbotsSignature(body, t.key)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))
	signed.Header.Set(FlashbotsSignatureHeader, sig)
	return t.base.RoundTrip(signed)
}

type JSONRPCRelay struct {
	name    string
	client  jsonrpc.RPCClient
	limiter *rate.Limiter
}

// NewJSONRPCRelay creates a relay client signing every request with signingKey.
// limit bounds the request rate to this relay, rate.Inf disables it.
func NewJSONRPCRelay(name, url string, signingKey *ecdsa.PrivateKey, limit rate.Limit, timeout time.Duration) *JSONRPCRelay {
	if timeout <= 0 {
		timeout = DefaultRelayRequestTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &signingTransport{
			key:  signingKey,
			base: http.DefaultTransport,
		},
	}
	return &JSONRPCRelay{
		name: name,
		client: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient: httpClient,
		}),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (r *JSONRPCRelay) Name() string {
	return r.name
}

// CallBundle simulates bundle on top of its simulation block
func (r *JSONRPCRelay) CallBundle(ctx context.Context, bundle *Bundle) (*SimulationResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	args := CallBundleArgs{
		Txs:              bundle.rawTxs(),
		BlockNumber:      hexutil.Uint64(bundle.TargetBlock),
		StateBlockNumber: hexutil.Uint64(bundle.SimulationBlock),
	}
	if bundle.SimulationTimestamp != 0 {
		ts := hexutil.Uint64(bundle.SimulationTimestamp)
		args.Timestamp = &ts
	}

	var result SimulationResult
	err := r.client.CallFor(ctx, &result, CallBundleEndpointName, []CallBundleArgs{args})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *JSONRPCRelay) SendBundle(ctx context.Context, bundle *Bundle) (*SendBundleResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	args := SendBundleArgs{
		Txs:         bundle.rawTxs(),
		BlockNumber: hexutil.Uint64(bundle.TargetBlock),
	}

	res, err := r.client.Call(ctx, SendBundleEndpointName, []SendBundleArgs{args})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}
	var resp SendBundleResponse
	// some relays answer with an empty result
	if res.Result != nil {
		if err := res.GetObject(&resp); err != nil {
			return nil, err
		}
	}
	if resp.BundleHash == (common.Hash{}) {
		if hash, err := bundle.Hash(); err == nil {
			resp.BundleHash = hash
		}
	}
	return &resp, nil
}
