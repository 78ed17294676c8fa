// Copyright (c) 2025 BVK Chaitanya

package pancake

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Credentials holds the chain endpoint and the wallet signing key.
type Credentials struct {
	RPCURL    string
	WalletKey string
}

func (v *Credentials) Check() error {
	if len(v.RPCURL) == 0 || len(v.WalletKey) == 0 {
		return os.ErrInvalid
	}
	return nil
}

// Backend is the slice of the ethclient surface the adapter uses.
// *ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	// MinPoolWBNB is the smallest WBNB reserve a liquidity pool must hold
	// for its price to be trusted.
	MinPoolWBNB decimal.Decimal

	// MaxRPCsPerSec throttles calls against the node endpoint.
	MaxRPCsPerSec float64

	// ReceiptPollInterval is the delay between transaction receipt polls.
	ReceiptPollInterval time.Duration
}

func (v *Options) setDefaults() {
	if v.MinPoolWBNB.IsZero() {
		v.MinPoolWBNB = decimal.NewFromInt(25)
	}
	if v.MaxRPCsPerSec == 0 {
		v.MaxRPCsPerSec = 10
	}
	if v.ReceiptPollInterval == 0 {
		v.ReceiptPollInterval = 2 * time.Second
	}
}

// Client talks to the PancakeSwap v2 contracts. It implements dex.Oracle;
// the Executor in this package shares it for swap dispatch.
type Client struct {
	opts Options

	backend Backend
	limiter *rate.Limiter

	key    *ecdsa.PrivateKey
	wallet common.Address
}

// abiPacker is the slice of abi.ABI used by contract calls.
type abiPacker interface {
	Pack(name string, args ...interface{}) ([]byte, error)
	Unpack(name string, data []byte) ([]interface{}, error)
}

// New dials the node endpoint and prepares the wallet key for signing.
func New(ctx context.Context, creds *Credentials, opts *Options) (*Client, error) {
	if err := creds.Check(); err != nil {
		return nil, err
	}
	backend, err := ethclient.DialContext(ctx, creds.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("could not dial rpc endpoint: %w", err)
	}
	return NewWithBackend(backend, creds.WalletKey, opts)
}

// NewWithBackend is like New, but over a caller-supplied backend.
func NewWithBackend(backend Backend, walletKey string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(walletKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("could not parse wallet key: %w", err)
	}

	c := &Client{
		opts:    *opts,
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(opts.MaxRPCsPerSec), 1),
		key:     key,
		wallet:  crypto.PubkeyToAddress(key.PublicKey),
	}
	return c, nil
}

func (c *Client) Wallet() common.Address {
	return c.wallet
}

func (c *Client) call(ctx context.Context, to common.Address, contract abiPacker, method string, args ...any) ([]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("could not pack %s call: %w", method, err)
	}
	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call has failed: %w", method, err)
	}
	values, err := contract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("could not unpack %s result: %w", method, err)
	}
	return values, nil
}
