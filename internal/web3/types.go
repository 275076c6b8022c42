package web3

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Profile is the static, read-only description of one supported network.
type Profile struct {
	Name        string
	ChainID     uint64
	RPCURL      string
	ExplorerURL string
	Symbol      string
	Decimals    int32
}

// TxURL returns the explorer link for a transaction hash.
func (p Profile) TxURL(hash common.Hash) string {
	if p.ExplorerURL == "" {
		return hash.Hex()
	}
	base := p.ExplorerURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "tx/" + hash.Hex()
}

// Balance is a native-currency amount in display units.
type Balance struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// NewBalance converts a base-unit value (wei) into display units.
func NewBalance(symbol string, wei *big.Int, decimals int32) Balance {
	if wei == nil || wei.Sign() < 0 {
		wei = new(big.Int)
	}
	return Balance{Symbol: symbol, Amount: decimal.NewFromBigInt(wei, -decimals)}
}

// IsPositive reports whether the balance can fund a transaction.
func (b Balance) IsPositive() bool {
	return b.Amount.IsPositive()
}

// String renders the amount followed by the symbol.
func (b Balance) String() string {
	if b.Symbol == "" {
		return b.Amount.String()
	}
	return b.Amount.String() + " " + b.Symbol
}

// TransactionRequest is built once per on-chain action and submitted exactly once.
type TransactionRequest struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Data     []byte
	Nonce    uint64
	GasPrice *big.Int
}

// HasData reports whether the request is shaped as a contract call.
func (r *TransactionRequest) HasData() bool {
	return r != nil && len(r.Data) > 0
}

// LegacyTx converts the request into an unsigned legacy transaction with the
// given gas limit. A request without payload produces a bare value transfer.
func (r *TransactionRequest) LegacyTx(gas uint64) *types.Transaction {
	to := r.To
	value := new(big.Int)
	if r.Value != nil {
		value.Set(r.Value)
	}
	gasPrice := new(big.Int)
	if r.GasPrice != nil {
		gasPrice.Set(r.GasPrice)
	}
	var data []byte
	if r.HasData() {
		data = append([]byte(nil), r.Data...)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    r.Nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
}

// SubmitStatus describes what is known about a submitted transaction.
type SubmitStatus string

const (
	// StatusConfirmed means a successful receipt was observed.
	StatusConfirmed SubmitStatus = "confirmed"
	// StatusReverted means the transaction was mined but failed.
	StatusReverted SubmitStatus = "reverted"
	// StatusPending means the transaction was accepted but no receipt appeared in time.
	StatusPending SubmitStatus = "pending"
)

// SubmitResult is returned by a successful submission.
type SubmitResult struct {
	Hash        common.Hash
	Status      SubmitStatus
	Receipt     *types.Receipt
	PinnedBlock uint64
	ExplorerURL string
}

// Client is the per-account chain capability used by the workers.
type Client interface {
	Address() common.Address
	Profile() Profile
	Balance(ctx context.Context) (Balance, error)
	ResolveNonce(ctx context.Context) (uint64, error)
	BuildTransaction(ctx context.Context, data []byte, value *big.Int, to common.Address) (*TransactionRequest, error)
	SubmitAndWait(ctx context.Context, req *TransactionRequest) (*SubmitResult, error)
	SelfTransfer(ctx context.Context) (*SubmitResult, error)
	Close()
}
