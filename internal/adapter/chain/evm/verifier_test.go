package evm

import (
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

type fakeClient struct {
	tx         *gethtypes.Transaction
	pending    bool
	txErr      error
	receipt    *gethtypes.Receipt
	receiptErr error
	head       *big.Int
}

func (f *fakeClient) TransactionByHash(context.Context, common.Hash) (*gethtypes.Transaction, bool, error) {
	return f.tx, f.pending, f.txErr
}

func (f *fakeClient) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: f.head}, nil
}

var (
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	hash   = "0x" + strings.Repeat("ab", 32)
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func signedTransfer(t *testing.T, value *big.Int) (*gethtypes.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	chainID := big.NewInt(1)
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{Nonce: 1, To: &escrow, Value: value, Gas: 21_000, GasPrice: big.NewInt(1)})
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(chainID), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed, crypto.PubkeyToAddress(key.PublicKey)
}

func TestVerify(t *testing.T) {
	value := big.NewInt(1_500_000_000_000_000_000)
	tx, sender := signedTransfer(t, value)
	ok := &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}

	tests := []struct {
		name      string
		client    *fakeClient
		hash      string
		wantValid bool
		wantErr   bool
	}{
		{"confirmed", &fakeClient{tx: tx, receipt: ok, head: big.NewInt(111)}, hash, true, false},
		{"malformed hash", &fakeClient{}, "0x1234", false, false},
		{"unknown", &fakeClient{txErr: ethereum.NotFound}, hash, false, false},
		{"pending", &fakeClient{tx: tx, pending: true}, hash, false, false},
		{"reverted", &fakeClient{tx: tx, receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}, head: big.NewInt(200)}, hash, false, false},
		{"too shallow", &fakeClient{tx: tx, receipt: ok, head: big.NewInt(105)}, hash, false, false},
		{"node down", &fakeClient{txErr: errors.New("connection refused")}, hash, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVerifier(tc.client, 12, quietLogger(), nil)
			got, err := v.Verify(context.Background(), tc.hash)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got.Valid != tc.wantValid {
				t.Fatalf("valid = %v, want %v", got.Valid, tc.wantValid)
			}
			if !got.Valid {
				return
			}
			if got.From != sender.Hex() || got.To != escrow.Hex() {
				t.Fatalf("from %s to %s", got.From, got.To)
			}
			if got.Value.String() != value.String() || got.BlockNumber != 100 {
				t.Fatalf("value %s block %d", got.Value, got.BlockNumber)
			}
		})
	}
}

func TestIsTxHash(t *testing.T) {
	if !IsTxHash(hash) {
		t.Fatalf("expected %s to be a hash", hash)
	}
	for _, s := range []string{"", "ab", strings.Repeat("ab", 32), "0x" + strings.Repeat("zz", 32)} {
		if IsTxHash(s) {
			t.Fatalf("%q should not be a hash", s)
		}
	}
}

func TestOffline(t *testing.T) {
	res, err := Offline{}.Verify(context.Background(), hash)
	if !errors.Is(err, ErrNoEndpoint) || res.Valid {
		t.Fatalf("Offline.Verify = %+v, %v", res, err)
	}
}
