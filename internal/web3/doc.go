// Package web3 holds the chain-facing vocabulary shared by the workers:
// network profiles loaded from configs/chain.yaml, native balances, the
// immutable transaction request and the per-account Client contract. The
// EVM implementation lives in the ethereum subpackage.
package web3
