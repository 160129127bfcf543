// Package evm implements ledger.Network for EVM chains running the
// credential registry contract.
package evm

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"credanchor/internal/ledger"
)

//go:embed credential_registry_abi.json
var registryABIJSON []byte

var (
	parsedABI    abi.ABI
	parseABIOnce sync.Once
	errParseABI  error
)

// loadABI ensures the ABI is parsed exactly once.
func loadABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		parsedABI, errParseABI = abi.JSON(strings.NewReader(string(registryABIJSON)))
	})
	return parsedABI, errParseABI
}

// Config holds the connection settings for one chain.
type Config struct {
	Name            string
	RPCURL          string
	ChainID         int64 // 0 means ask the node
	ContractAddress string
	PrivateKeyHex   string
	GasLimit        uint64 // 0 means estimate per transaction
}

// rpcClient is the subset of *ethclient.Client used by Network.
type rpcClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Network talks to one EVM chain over JSON-RPC.
type Network struct {
	name     string
	client   rpcClient
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64

	// sendMu serializes nonce assignment and broadcast.
	sendMu sync.Mutex
	// inflight keeps signed transactions so a retried Submit rebroadcasts
	// the same transaction instead of signing a new one.
	inflight map[string]*types.Transaction
	// nextNonce is one past the last nonce signed here. The node's pending
	// nonce lags while a cached transaction has not reached its mempool.
	nextNonce uint64
}

// Dial connects to cfg.RPCURL and returns a ready Network.
func Dial(ctx context.Context, cfg Config) (*Network, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Name, err)
	}
	n, err := newNetwork(ctx, cfg, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return n, nil
}

func newNetwork(ctx context.Context, cfg Config, client rpcClient) (*Network, error) {
	if cfg.Name == "" {
		return nil, errors.New("network name is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("network %s: invalid contract address", cfg.Name)
	}
	contractABI, err := loadABI()
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("network %s: invalid private key: %w", cfg.Name, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("network %s: chain id: %w", cfg.Name, err)
		}
	}

	return &Network{
		name:     cfg.Name,
		client:   client,
		abi:      contractABI,
		contract: common.HexToAddress(cfg.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		gasLimit: cfg.GasLimit,
		inflight: make(map[string]*types.Transaction),
	}, nil
}

func (n *Network) Name() string { return n.name }

func (n *Network) pack(tx ledger.Tx) ([]byte, error) {
	switch tx.Kind {
	case ledger.TxAnchor:
		var expiresAt uint64
		if tx.ExpiresAt != nil {
			expiresAt = uint64(tx.ExpiresAt.Unix())
		}
		return n.abi.Pack("anchorCredential", tx.DataHash, ledger.RefHash(tx.HolderRef), ledger.RefHash(tx.IssuerRef), expiresAt)
	case ledger.TxRevoke:
		return n.abi.Pack("revokeCredential", tx.DataHash, ledger.RefHash(tx.IssuerRef), tx.Reason)
	default:
		return nil, fmt.Errorf("unknown tx kind %q", tx.Kind)
	}
}

func inflightKey(tx ledger.Tx) string {
	return string(tx.Kind) + ":" + common.Hash(tx.DataHash).Hex()
}

// Submit signs (once) and broadcasts tx.
func (n *Network) Submit(ctx context.Context, tx ledger.Tx) (ledger.TxRef, error) {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()

	key := inflightKey(tx)
	signed, ok := n.inflight[key]
	if !ok {
		var err error
		signed, err = n.sign(ctx, tx)
		if err != nil {
			return "", err
		}
		n.inflight[key] = signed
	}

	if err := n.client.SendTransaction(ctx, signed); err != nil {
		if isAlreadyKnown(err) {
			return ledger.TxRef(signed.Hash().Hex()), nil
		}
		kind := classify(err, ledger.KindSubmissionFailed)
		if kind != ledger.KindNetworkUnavailable {
			delete(n.inflight, key)
			n.releaseNonce(signed.Nonce())
		}
		return "", ledger.NewError(kind, n.name, "send transaction", err)
	}
	return ledger.TxRef(signed.Hash().Hex()), nil
}

func (n *Network) sign(ctx context.Context, tx ledger.Tx) (*types.Transaction, error) {
	data, err := n.pack(tx)
	if err != nil {
		return nil, ledger.NewError(ledger.KindSubmissionFailed, n.name, "encode call", err)
	}

	nonce, err := n.client.PendingNonceAt(ctx, n.from)
	if err != nil {
		return nil, ledger.NewError(classify(err, ledger.KindSubmissionFailed), n.name, "pending nonce", err)
	}
	nonce = max(nonce, n.nextNonce)
	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, ledger.NewError(classify(err, ledger.KindEstimationFailed), n.name, "suggest gas price", err)
	}

	gasLimit := n.gasLimit
	if gasLimit == 0 {
		gasLimit, err = n.client.EstimateGas(ctx, ethereum.CallMsg{From: n.from, To: &n.contract, Data: data})
		if err != nil {
			return nil, ledger.NewError(classify(err, ledger.KindEstimationFailed), n.name, "estimate gas", err)
		}
	}

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &n.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(n.chainID), n.key)
	if err != nil {
		return nil, ledger.NewError(ledger.KindSubmissionFailed, n.name, "sign transaction", err)
	}
	n.nextNonce = nonce + 1
	return signed, nil
}

// releaseNonce hands back the most recent nonce when its transaction was
// rejected, so the next submission does not leave a gap.
func (n *Network) releaseNonce(nonce uint64) {
	if n.nextNonce == nonce+1 {
		n.nextNonce = nonce
	}
}

func (n *Network) Receipt(ctx context.Context, ref ledger.TxRef) (*ledger.Receipt, error) {
	hash := common.HexToHash(string(ref))
	receipt, err := n.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ledger.ErrTxPending
	}
	if err != nil {
		return nil, ledger.NewError(classify(err, ledger.KindNetworkUnavailable), n.name, "transaction receipt", err)
	}

	n.forget(hash)
	var height uint64
	if receipt.BlockNumber != nil {
		height = receipt.BlockNumber.Uint64()
	}
	return &ledger.Receipt{
		TxRef:       ref,
		BlockHeight: height,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, nil
}

func (n *Network) forget(hash common.Hash) {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	for key, tx := range n.inflight {
		if tx.Hash() == hash {
			delete(n.inflight, key)
		}
	}
}

func (n *Network) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := n.client.BlockNumber(ctx)
	if err != nil {
		return 0, ledger.NewError(classify(err, ledger.KindNetworkUnavailable), n.name, "block number", err)
	}
	return head, nil
}

func (n *Network) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := n.abi.Pack(method, args...)
	if err != nil {
		return nil, ledger.NewError(ledger.KindSubmissionFailed, n.name, "encode "+method, err)
	}
	out, err := n.client.CallContract(ctx, ethereum.CallMsg{From: n.from, To: &n.contract, Data: data}, nil)
	if err != nil {
		return nil, ledger.NewError(classify(err, ledger.KindNetworkUnavailable), n.name, method, err)
	}
	values, err := n.abi.Unpack(method, out)
	if err != nil {
		return nil, ledger.NewError(ledger.KindSubmissionFailed, n.name, "decode "+method, err)
	}
	return values, nil
}

func (n *Network) ReadCredential(ctx context.Context, dataHash [32]byte) (*ledger.Record, error) {
	values, err := n.call(ctx, "getCredential", dataHash)
	if err != nil {
		return nil, err
	}
	if len(values) != 6 {
		return nil, ledger.NewError(ledger.KindSubmissionFailed, n.name, "unexpected getCredential output", nil)
	}

	stored, _ := values[0].([32]byte)
	if stored == ([32]byte{}) {
		return nil, ledger.ErrRecordNotFound
	}
	issuer, _ := values[1].([32]byte)
	holder, _ := values[2].([32]byte)
	issuedAt, _ := values[3].(uint64)
	expiresAt, _ := values[4].(uint64)
	revoked, _ := values[5].(bool)

	rec := &ledger.Record{
		DataHash: stored,
		Issuer:   issuer,
		Holder:   holder,
		IssuedAt: time.Unix(int64(issuedAt), 0).UTC(),
		Revoked:  revoked,
	}
	if expiresAt != 0 {
		t := time.Unix(int64(expiresAt), 0).UTC()
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func (n *Network) IsAuthorizedIssuer(ctx context.Context, issuerRef string) (bool, error) {
	values, err := n.call(ctx, "isAuthorizedIssuer", ledger.RefHash(issuerRef))
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, ledger.NewError(ledger.KindSubmissionFailed, n.name, "unexpected isAuthorizedIssuer output", nil)
	}
	ok, _ := values[0].(bool)
	return ok, nil
}

func (n *Network) EstimateGas(ctx context.Context, tx ledger.Tx) (uint64, error) {
	data, err := n.pack(tx)
	if err != nil {
		return 0, ledger.NewError(ledger.KindEstimationFailed, n.name, "encode call", err)
	}
	gas, err := n.client.EstimateGas(ctx, ethereum.CallMsg{From: n.from, To: &n.contract, Data: data})
	if err != nil {
		return 0, ledger.NewError(ledger.KindEstimationFailed, n.name, "estimate gas", err)
	}
	return gas, nil
}

func (n *Network) ChainInfo(ctx context.Context) (ledger.ChainInfo, error) {
	head, err := n.BlockNumber(ctx)
	if err != nil {
		return ledger.ChainInfo{}, err
	}
	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.ChainInfo{}, ledger.NewError(classify(err, ledger.KindNetworkUnavailable), n.name, "suggest gas price", err)
	}
	return ledger.ChainInfo{
		Network:  n.name,
		ChainID:  n.chainID.Uint64(),
		Head:     head,
		GasPrice: gasPrice,
	}, nil
}

func (n *Network) Close() {
	n.client.Close()
}

// classify separates transport failures, which are retried, from errors the node returned.
func classify(err error, fallback ledger.ErrorKind) ledger.ErrorKind {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fallback
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return ledger.KindNetworkUnavailable
	}
	return fallback
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

var _ ledger.Network = (*Network)(nil)
