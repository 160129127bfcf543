package evm

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credanchor/internal/ledger"
)

type stubRPC struct {
	head      uint64
	sendErrs  []error
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	callOut   []byte
	callErr   error
	nonce     uint64
	nonceHits int
	estimate  uint64
	estimErr  error
	lastCalls []ethereum.CallMsg
}

func (s *stubRPC) ChainID(context.Context) (*big.Int, error) { return big.NewInt(11155111), nil }
func (s *stubRPC) BlockNumber(context.Context) (uint64, error) {
	return s.head, nil
}
func (s *stubRPC) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.nonceHits++
	return s.nonce, nil
}
func (s *stubRPC) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(2e9), nil }
func (s *stubRPC) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	s.lastCalls = append(s.lastCalls, msg)
	return s.estimate, s.estimErr
}
func (s *stubRPC) SendTransaction(_ context.Context, tx *types.Transaction) error {
	s.sent = append(s.sent, tx)
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		return err
	}
	return nil
}
func (s *stubRPC) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	r, ok := s.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
func (s *stubRPC) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	s.lastCalls = append(s.lastCalls, msg)
	return s.callOut, s.callErr
}
func (s *stubRPC) Close() {}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func newTestNetwork(t *testing.T, rpc *stubRPC) *Network {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	n, err := newNetwork(context.Background(), Config{
		Name:            "sepolia",
		ContractAddress: "0x00000000000000000000000000000000000c0ffe",
		PrivateKeyHex:   common.Bytes2Hex(crypto.FromECDSA(key)),
	}, rpc)
	require.NoError(t, err)
	return n
}

func TestSubmitRebroadcastsSameTransactionAfterTransportFailure(t *testing.T) {
	rpc := &stubRPC{estimate: 90_000, sendErrs: []error{timeoutErr{}, errors.New("already known")}}
	n := newTestNetwork(t, rpc)
	tx := ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{9}, HolderRef: "holder", IssuerRef: "issuer"}

	_, err := n.Submit(context.Background(), tx)
	require.Error(t, err)
	assert.True(t, ledger.IsKind(err, ledger.KindNetworkUnavailable))

	ref, err := n.Submit(context.Background(), tx)
	require.NoError(t, err)

	require.Len(t, rpc.sent, 2)
	assert.Equal(t, rpc.sent[0].Hash(), rpc.sent[1].Hash(), "retry must not sign a second transaction")
	assert.Equal(t, ledger.TxRef(rpc.sent[0].Hash().Hex()), ref)
	assert.Equal(t, 1, rpc.nonceHits, "nonce is fetched once")
}

func TestSubmitDoesNotReuseNonceOfUnbroadcastTransaction(t *testing.T) {
	// the node never saw the first transaction, so its pending nonce stays put
	rpc := &stubRPC{nonce: 7, estimate: 90_000, sendErrs: []error{timeoutErr{}}}
	n := newTestNetwork(t, rpc)
	first := ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{1}}
	second := ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{2}}

	_, err := n.Submit(context.Background(), first)
	require.Error(t, err)
	_, err = n.Submit(context.Background(), second)
	require.NoError(t, err)
	_, err = n.Submit(context.Background(), first)
	require.NoError(t, err)

	require.Len(t, rpc.sent, 3)
	assert.Equal(t, uint64(7), rpc.sent[0].Nonce())
	assert.Equal(t, uint64(8), rpc.sent[1].Nonce())
	assert.Equal(t, rpc.sent[0].Hash(), rpc.sent[2].Hash())
}

func TestSubmitFollowsNodeNonceWhenAhead(t *testing.T) {
	rpc := &stubRPC{nonce: 3, estimate: 90_000}
	n := newTestNetwork(t, rpc)

	_, err := n.Submit(context.Background(), ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{1}})
	require.NoError(t, err)
	rpc.nonce = 10
	_, err = n.Submit(context.Background(), ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{2}})
	require.NoError(t, err)

	require.Len(t, rpc.sent, 2)
	assert.Equal(t, uint64(3), rpc.sent[0].Nonce())
	assert.Equal(t, uint64(10), rpc.sent[1].Nonce())
}

func TestRejectedSubmissionReleasesNonce(t *testing.T) {
	rpc := &stubRPC{nonce: 5, estimate: 90_000, sendErrs: []error{errors.New("insufficient funds for gas")}}
	n := newTestNetwork(t, rpc)

	_, err := n.Submit(context.Background(), ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{1}})
	require.Error(t, err)
	_, err = n.Submit(context.Background(), ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{2}})
	require.NoError(t, err)

	require.Len(t, rpc.sent, 2)
	assert.Equal(t, uint64(5), rpc.sent[1].Nonce())
}

func TestSubmitEstimationFailureIsNotDefaulted(t *testing.T) {
	rpc := &stubRPC{estimErr: errors.New("execution reverted")}
	n := newTestNetwork(t, rpc)

	_, err := n.Submit(context.Background(), ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{1}})
	require.Error(t, err)
	assert.True(t, ledger.IsKind(err, ledger.KindEstimationFailed))
	assert.Empty(t, rpc.sent)
}

func TestReceipt(t *testing.T) {
	rpc := &stubRPC{receipts: map[common.Hash]*types.Receipt{}}
	n := newTestNetwork(t, rpc)

	_, err := n.Receipt(context.Background(), ledger.TxRef(common.Hash{1}.Hex()))
	assert.ErrorIs(t, err, ledger.ErrTxPending)

	rpc.receipts[common.Hash{2}] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(40)}
	r, err := n.Receipt(context.Background(), ledger.TxRef(common.Hash{2}.Hex()))
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, uint64(40), r.BlockHeight)
}

func TestReadCredentialDecodesRegistryOutput(t *testing.T) {
	contractABI, err := loadABI()
	require.NoError(t, err)

	dataHash := [32]byte{0xaa}
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := contractABI.Methods["getCredential"].Outputs.Pack(
		dataHash, ledger.RefHash("issuer"), ledger.RefHash("holder"),
		uint64(1_700_000_000), uint64(expires.Unix()), true,
	)
	require.NoError(t, err)

	rpc := &stubRPC{callOut: out}
	n := newTestNetwork(t, rpc)

	rec, err := n.ReadCredential(context.Background(), dataHash)
	require.NoError(t, err)
	assert.Equal(t, dataHash, rec.DataHash)
	assert.Equal(t, ledger.RefHash("issuer"), rec.Issuer)
	assert.True(t, rec.Revoked)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, expires.Equal(*rec.ExpiresAt))
}

func TestReadCredentialUnknownHash(t *testing.T) {
	contractABI, err := loadABI()
	require.NoError(t, err)
	out, err := contractABI.Methods["getCredential"].Outputs.Pack(
		[32]byte{}, [32]byte{}, [32]byte{}, uint64(0), uint64(0), false,
	)
	require.NoError(t, err)

	n := newTestNetwork(t, &stubRPC{callOut: out})
	_, err = n.ReadCredential(context.Background(), [32]byte{1})
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestIsAuthorizedIssuer(t *testing.T) {
	contractABI, err := loadABI()
	require.NoError(t, err)
	out, err := contractABI.Methods["isAuthorizedIssuer"].Outputs.Pack(true)
	require.NoError(t, err)

	n := newTestNetwork(t, &stubRPC{callOut: out})
	ok, err := n.IsAuthorizedIssuer(context.Background(), "issuer")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallTransportFailureIsRetryable(t *testing.T) {
	n := newTestNetwork(t, &stubRPC{callErr: timeoutErr{}})
	_, err := n.IsAuthorizedIssuer(context.Background(), "issuer")
	require.Error(t, err)
	assert.True(t, ledger.IsRetryable(err))
}
