package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/observability/metrics"
	"AgentFleet/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = time.Second
)

// DefaultGasPrice is the static fee applied to every transaction.
var DefaultGasPrice = new(big.Int).Mul(big.NewInt(5), big.NewInt(params.GWei))

// Backend is the subset of RPC methods the client relies on. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Config describes how to construct a per-account EVM client.
type Config struct {
	Profile        web3.Profile
	GasPrice       *big.Int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client implements web3.Client for one signer on one EVM network.
type Client struct {
	profile        web3.Profile
	chainID        *big.Int
	signer         *Signer
	backend        Backend
	closer         func()
	gasPrice       *big.Int
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

var _ web3.Client = (*Client)(nil)

// Dial connects to the profile's RPC endpoint.
func Dial(ctx context.Context, cfg Config, signer *Signer) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.Profile.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if signer == nil {
		return nil, errors.New("未提供签名账户")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client := NewWithBackend(eth, cfg, signer)
	client.closer = eth.Close
	return client, nil
}

// NewWithBackend builds a client over an existing backend, typically the
// simulated chain in tests.
func NewWithBackend(backend Backend, cfg Config, signer *Signer) *Client {
	gasPrice := DefaultGasPrice
	if cfg.GasPrice != nil && cfg.GasPrice.Sign() > 0 {
		gasPrice = cfg.GasPrice
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Client{
		profile:        cfg.Profile,
		chainID:        new(big.Int).SetUint64(cfg.Profile.ChainID),
		signer:         signer,
		backend:        backend,
		gasPrice:       new(big.Int).Set(gasPrice),
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c != nil && c.closer != nil {
		c.closer()
	}
}

// Address returns the signer's address.
func (c *Client) Address() common.Address {
	return c.signer.Address()
}

// Profile returns the network profile this client is bound to.
func (c *Client) Profile() web3.Profile {
	return c.profile
}

// Balance returns the native balance in display units.
func (c *Client) Balance(ctx context.Context) (web3.Balance, error) {
	started := time.Now()
	wei, err := c.backend.BalanceAt(ctx, c.Address(), nil)
	metrics.ObserveChain(c.profile.Name, "balance", err, started)
	if err != nil {
		return web3.Balance{}, xerrors.Wrap(xerrors.CodeOperationFailure, err, "查询余额失败")
	}
	return web3.NewBalance(c.profile.Symbol, wei, c.profile.Decimals), nil
}

// ResolveNonce returns max(latest confirmed, pending) so that externally
// submitted and in-flight transactions are never reused.
func (c *Client) ResolveNonce(ctx context.Context) (uint64, error) {
	started := time.Now()
	latest, err := c.backend.NonceAt(ctx, c.Address(), nil)
	if err != nil {
		metrics.ObserveChain(c.profile.Name, "nonce", err, started)
		return 0, xerrors.Wrap(xerrors.CodeOperationFailure, err, "查询已确认 nonce 失败")
	}
	pending, err := c.backend.PendingNonceAt(ctx, c.Address())
	metrics.ObserveChain(c.profile.Name, "nonce", err, started)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeOperationFailure, err, "查询待处理 nonce 失败")
	}
	return max(latest, pending), nil
}

// BuildTransaction resolves the nonce and applies the static gas price. An
// empty payload yields a bare value transfer.
func (c *Client) BuildTransaction(ctx context.Context, data []byte, value *big.Int, to common.Address) (*web3.TransactionRequest, error) {
	nonce, err := c.ResolveNonce(ctx)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if value != nil {
		if value.Sign() < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额不能为负数")
		}
		amount.Set(value)
	}
	req := &web3.TransactionRequest{
		From:     c.Address(),
		To:       to,
		Value:    amount,
		Nonce:    nonce,
		GasPrice: new(big.Int).Set(c.gasPrice),
	}
	if len(data) > 0 {
		req.Data = append([]byte(nil), data...)
	}
	return req, nil
}

// SubmitAndWait dry-runs the request against the block behind head, signs and
// sends it, then polls for the receipt. A missing receipt after the confirm
// timeout is reported as StatusPending, not as an error.
func (c *Client) SubmitAndWait(ctx context.Context, req *web3.TransactionRequest) (*web3.SubmitResult, error) {
	if req == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易请求为空")
	}
	if req.From != c.Address() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易发起方与签名账户不一致")
	}

	started := time.Now()
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		metrics.ObserveChain(c.profile.Name, "submit", err, started)
		return nil, xerrors.Wrap(xerrors.CodeOperationFailure, err, "查询最新区块失败")
	}
	pinned := head
	if head > 0 {
		pinned = head - 1
	}

	to := req.To
	msg := gethcore.CallMsg{From: req.From, To: &to, Value: req.Value, Data: req.Data}
	if _, err := c.backend.CallContract(ctx, msg, new(big.Int).SetUint64(pinned)); err != nil {
		metrics.ObserveChain(c.profile.Name, "submit", err, started)
		return nil, xerrors.Wrap(xerrors.CodeOperationFailure, err, fmt.Sprintf("交易在区块 %d 预执行失败", pinned))
	}

	gas := params.TxGas
	if req.HasData() {
		gas, err = c.backend.EstimateGas(ctx, msg)
		if err != nil {
			metrics.ObserveChain(c.profile.Name, "submit", err, started)
			return nil, xerrors.Wrap(xerrors.CodeOperationFailure, err, "估算 gas 失败")
		}
	}

	signed, err := coretypes.SignTx(req.LegacyTx(gas), coretypes.LatestSignerForChainID(c.chainID), c.signer.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailure, err, "交易签名失败")
	}
	err = c.backend.SendTransaction(ctx, signed)
	metrics.ObserveChain(c.profile.Name, "submit", err, started)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailure, err, "提交交易失败")
	}

	result := &web3.SubmitResult{
		Hash:        signed.Hash(),
		Status:      web3.StatusPending,
		PinnedBlock: pinned,
		ExplorerURL: c.profile.TxURL(signed.Hash()),
	}
	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return result, err
	}
	if receipt != nil {
		result.Receipt = receipt
		result.Status = web3.StatusConfirmed
		if receipt.Status != coretypes.ReceiptStatusSuccessful {
			result.Status = web3.StatusReverted
		}
	}
	metrics.TransactionSubmitted(c.profile.Name, string(result.Status))
	return result, nil
}

// SelfTransfer sends a zero-value transfer to the signer's own address.
func (c *Client) SelfTransfer(ctx context.Context) (*web3.SubmitResult, error) {
	req, err := c.BuildTransaction(ctx, nil, new(big.Int), c.Address())
	if err != nil {
		return nil, err
	}
	return c.SubmitAndWait(ctx, req)
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	deadline := time.NewTimer(c.confirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		// Lookup errors other than cancellation are treated as "not yet mined".
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}
