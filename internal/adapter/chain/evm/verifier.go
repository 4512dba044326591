// Package evm verifies ETH transfers against an Ethereum JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/domain/chain"
	"avelon-ledger/internal/infrastructure/metrics"
	"avelon-ledger/pkg/money"
)

// Client is the subset of the Ethereum RPC the verifier needs.
type Client interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

type Verifier struct {
	client        Client
	confirmations uint64
	timeout       time.Duration
	log           logrus.FieldLogger
	metrics       *metrics.LedgerMetrics
}

var _ chain.Verifier = (*Verifier)(nil)

func NewVerifier(client Client, confirmations uint64, log logrus.FieldLogger, m *metrics.LedgerMetrics) *Verifier {
	return &Verifier{client: client, confirmations: confirmations, timeout: 10 * time.Second, log: log, metrics: m}
}

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex hash.
func IsTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// Verify looks the transaction up, requires a successful receipt with enough
// confirmations, and reports sender, recipient and value. Unknown, pending,
// reverted or shallow transactions come back with Valid == false.
func (v *Verifier) Verify(ctx context.Context, txHash string) (chain.Verification, error) {
	start := time.Now()
	res, err := v.verify(ctx, txHash)
	outcome := "valid"
	switch {
	case err != nil:
		outcome = "error"
	case !res.Valid:
		outcome = "invalid"
	}
	v.metrics.Verification(outcome, time.Since(start))
	return res, err
}

func (v *Verifier) verify(ctx context.Context, txHash string) (chain.Verification, error) {
	if !IsTxHash(txHash) {
		return chain.Verification{}, nil
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	hash := common.HexToHash(txHash)
	logger := v.log.WithField("tx_hash", txHash)

	tx, pending, err := v.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		logger.Warn("transaction not found")
		return chain.Verification{}, nil
	}
	if err != nil {
		return chain.Verification{}, fmt.Errorf("fetch transaction: %w", err)
	}
	if pending {
		logger.Info("transaction still pending")
		return chain.Verification{}, nil
	}

	receipt, err := v.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return chain.Verification{}, nil
	}
	if err != nil {
		return chain.Verification{}, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return chain.Verification{}, fmt.Errorf("receipt metadata unavailable")
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		logger.Warn("transaction reverted")
		return chain.Verification{}, nil
	}

	if v.confirmations > 0 {
		head, err := v.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return chain.Verification{}, fmt.Errorf("fetch head: %w", err)
		}
		if head == nil || head.Number == nil {
			return chain.Verification{}, fmt.Errorf("head metadata unavailable")
		}
		if head.Number.Cmp(receipt.BlockNumber) < 0 {
			return chain.Verification{}, nil
		}
		confirmed := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		if confirmed.Cmp(new(big.Int).SetUint64(v.confirmations)) < 0 {
			logger.WithField("confirmations", confirmed.String()).Info("insufficient confirmations")
			return chain.Verification{}, nil
		}
	}

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return chain.Verification{}, fmt.Errorf("recover sender: %w", err)
	}
	out := chain.Verification{
		Valid:       true,
		BlockNumber: receipt.BlockNumber.Uint64(),
		From:        from.Hex(),
		Value:       money.FromBig(tx.Value()),
	}
	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}
	return out, nil
}

// ErrNoEndpoint is returned by Offline.
var ErrNoEndpoint = errors.New("no ethereum rpc endpoint configured")

// Offline stands in for Verifier when no RPC endpoint is configured. Every
// lookup fails, so deposits and repayments are refused rather than trusted.
type Offline struct{}

var _ chain.Verifier = Offline{}

func (Offline) Verify(context.Context, string) (chain.Verification, error) {
	return chain.Verification{}, ErrNoEndpoint
}
