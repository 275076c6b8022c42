package ethereum

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	xerrors "AgentFleet/internal/errors"
	"AgentFleet/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
)

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func simulatedProfile() web3.Profile {
	return web3.Profile{
		Name:        "simulated",
		ChainID:     1337,
		RPCURL:      "simulated",
		ExplorerURL: "https://scan.local/",
		Symbol:      "ETH",
		Decimals:    18,
	}
}

func newSimulatedClient(t *testing.T, confirm time.Duration) (*Client, *simulated.Backend, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	backend := simulated.NewBackend(coretypes.GenesisAlloc{addr: {Balance: oneEther}})
	t.Cleanup(func() { _ = backend.Close() })

	client := NewWithBackend(backend.Client(), Config{
		Profile:        simulatedProfile(),
		ConfirmTimeout: confirm,
		PollInterval:   10 * time.Millisecond,
	}, NewSigner(key))
	return client, backend, key
}

// mineContinuously commits blocks until the test finishes.
func mineContinuously(t *testing.T, backend *simulated.Backend) {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}

func TestBalanceInDisplayUnits(t *testing.T) {
	client, _, _ := newSimulatedClient(t, time.Second)

	bal, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.String() != "1 ETH" {
		t.Fatalf("unexpected balance: %s", bal)
	}
}

func TestSelfTransferConfirmed(t *testing.T) {
	client, backend, _ := newSimulatedClient(t, 5*time.Second)
	mineContinuously(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := client.SelfTransfer(ctx)
	if err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if result.Status != web3.StatusConfirmed || result.Receipt == nil {
		t.Fatalf("expected confirmed receipt, got %+v", result)
	}
	if result.ExplorerURL != "https://scan.local/tx/"+result.Hash.Hex() {
		t.Fatalf("unexpected explorer url: %s", result.ExplorerURL)
	}

	tx, _, err := backend.Client().TransactionByHash(ctx, result.Hash)
	if err != nil {
		t.Fatalf("lookup transaction: %v", err)
	}
	if len(tx.Data()) != 0 {
		t.Fatalf("self transfer must not carry data, got %x", tx.Data())
	}
	if tx.GasPrice().Cmp(DefaultGasPrice) != 0 {
		t.Fatalf("unexpected gas price: %s", tx.GasPrice())
	}
	if tx.Gas() != params.TxGas {
		t.Fatalf("unexpected gas limit: %d", tx.Gas())
	}
	if tx.To() == nil || *tx.To() != client.Address() {
		t.Fatalf("transfer should target the signer itself")
	}

	nonce, err := client.ResolveNonce(ctx)
	if err != nil {
		t.Fatalf("resolve nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("expected nonce 1 after one transfer, got %d", nonce)
	}
}

func TestSubmitWithoutReceiptIsPending(t *testing.T) {
	client, backend, _ := newSimulatedClient(t, 50*time.Millisecond)
	ctx := context.Background()

	result, err := client.SelfTransfer(ctx)
	if err != nil {
		t.Fatalf("unmined submission must not fail: %v", err)
	}
	if result.Status != web3.StatusPending || result.Receipt != nil {
		t.Fatalf("expected pending result, got %+v", result)
	}

	latest, err := backend.Client().NonceAt(ctx, client.Address(), nil)
	if err != nil {
		t.Fatalf("latest nonce: %v", err)
	}
	pending, err := backend.Client().PendingNonceAt(ctx, client.Address())
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	resolved, err := client.ResolveNonce(ctx)
	if err != nil {
		t.Fatalf("resolve nonce: %v", err)
	}
	if resolved < latest || resolved < pending {
		t.Fatalf("resolved nonce %d below latest %d or pending %d", resolved, latest, pending)
	}
	if resolved != 1 {
		t.Fatalf("in-flight transaction should advance the nonce, got %d", resolved)
	}
}

func TestBuildTransactionPayloadBranch(t *testing.T) {
	fake := &fakeBackend{latest: 3, pending: 3}
	client := NewWithBackend(fake, Config{Profile: simulatedProfile()}, mustSigner(t))
	ctx := context.Background()

	bare, err := client.BuildTransaction(ctx, nil, big.NewInt(0), client.Address())
	if err != nil {
		t.Fatalf("build bare transfer: %v", err)
	}
	if bare.HasData() || bare.Data != nil {
		t.Fatalf("bare transfer must have empty data, got %x", bare.Data)
	}
	if bare.Nonce != 3 || bare.GasPrice.Cmp(DefaultGasPrice) != 0 {
		t.Fatalf("unexpected request: %+v", bare)
	}

	payload := common.FromHex("0xdeadbeef00")
	call, err := client.BuildTransaction(ctx, payload, nil, common.HexToAddress("0x1234"))
	if err != nil {
		t.Fatalf("build contract call: %v", err)
	}
	if !bytes.Equal(call.Data, payload) {
		t.Fatalf("payload mismatch: got %x want %x", call.Data, payload)
	}
	if call.Value.Sign() != 0 {
		t.Fatalf("nil value should become zero")
	}

	if _, err := client.BuildTransaction(ctx, nil, big.NewInt(-1), client.Address()); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("negative value should be rejected, got %v", err)
	}
}

func TestResolveNonceTakesMaximum(t *testing.T) {
	cases := []struct {
		latest, pending, want uint64
	}{
		{latest: 5, pending: 3, want: 5},
		{latest: 2, pending: 9, want: 9},
		{latest: 4, pending: 4, want: 4},
	}
	for _, tc := range cases {
		client := NewWithBackend(&fakeBackend{latest: tc.latest, pending: tc.pending}, Config{Profile: simulatedProfile()}, mustSigner(t))
		got, err := client.ResolveNonce(context.Background())
		if err != nil {
			t.Fatalf("resolve nonce: %v", err)
		}
		if got != tc.want || got < tc.latest || got < tc.pending {
			t.Fatalf("latest=%d pending=%d: got %d want %d", tc.latest, tc.pending, got, tc.want)
		}
	}

	failing := NewWithBackend(&fakeBackend{pendingErr: errors.New("rpc down")}, Config{Profile: simulatedProfile()}, mustSigner(t))
	if _, err := failing.ResolveNonce(context.Background()); xerrors.CodeOf(err) != xerrors.CodeOperationFailure {
		t.Fatalf("expected operation failure, got %v", err)
	}
}

func TestSubmitPinsBlockBehindHead(t *testing.T) {
	fake := &fakeBackend{head: 42, receipt: &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful}}
	client := NewWithBackend(fake, Config{Profile: simulatedProfile()}, mustSigner(t))
	ctx := context.Background()

	req, err := client.BuildTransaction(ctx, []byte{0x01}, nil, common.HexToAddress("0x99"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	result, err := client.SubmitAndWait(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.PinnedBlock != 41 || fake.callBlock == nil || fake.callBlock.Uint64() != 41 {
		t.Fatalf("expected dry run at block 41, got %d / %v", result.PinnedBlock, fake.callBlock)
	}
	if fake.sent == nil || fake.sent.Gas() != fake.estimate {
		t.Fatalf("contract call should use the estimated gas limit")
	}
	if result.Status != web3.StatusConfirmed {
		t.Fatalf("unexpected status: %s", result.Status)
	}
}

func TestSubmitFailureIsOperationError(t *testing.T) {
	fake := &fakeBackend{sendErr: errors.New("nonce too low")}
	client := NewWithBackend(fake, Config{Profile: simulatedProfile()}, mustSigner(t))

	_, err := client.SelfTransfer(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeOperationFailure {
		t.Fatalf("expected operation failure, got %v", err)
	}
}

func TestSubmitRejectsForeignSender(t *testing.T) {
	client := NewWithBackend(&fakeBackend{}, Config{Profile: simulatedProfile()}, mustSigner(t))
	req := &web3.TransactionRequest{From: common.HexToAddress("0x01")}
	if _, err := client.SubmitAndWait(context.Background(), req); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func mustSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewSigner(key)
}

type fakeBackend struct {
	latest, pending uint64
	pendingErr      error
	head            uint64
	estimate        uint64
	sendErr         error
	receipt         *coretypes.Receipt

	callBlock *big.Int
	sent      *coretypes.Transaction
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeBackend) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return f.latest, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.pending, f.pendingErr
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackend) CallContract(_ context.Context, _ gethcore.CallMsg, block *big.Int) ([]byte, error) {
	f.callBlock = block
	return nil, nil
}

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	if f.estimate == 0 {
		f.estimate = 33_000
	}
	return f.estimate, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = tx
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	if f.receipt == nil {
		return nil, gethcore.NotFound
	}
	return f.receipt, nil
}
