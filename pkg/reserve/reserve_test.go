package reserve

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/ledger"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
	"github.com/uhyunpark/bundlesettle/pkg/token"
)

var (
	custody = common.HexToAddress("0xC0000000000000000000000000000000000000C0")
	alice   = common.HexToAddress("0xA11CE00000000000000000000000000000000000")
	bob     = common.HexToAddress("0xB0B0000000000000000000000000000000000000")
	usdc    = common.HexToAddress("0x0000000000000000000000000000000000000A01")
)

type fixture struct {
	store  *storage.Store
	tx     *storage.Tx
	bank   *token.Bank
	deltas *ledger.Deltas
	r      *Reserves
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.OpenInMem()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	f := &fixture{store: s, tx: s.Begin(), bank: token.NewBank(), deltas: ledger.NewDeltas()}
	f.r = New(f.tx, f.deltas, f.bank.Account(custody), custody)
	return f
}

func TestSettleInternalLegs(t *testing.T) {
	f := newFixture(t)
	if err := f.r.Credit(alice, usdc, uint256.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := f.r.SettleOrderIn(alice, usdc, uint256.NewInt(60), true); err != nil {
		t.Fatalf("settle in: %v", err)
	}
	if err := f.r.SettleOrderOut(bob, usdc, uint256.NewInt(60), true); err != nil {
		t.Fatalf("settle out: %v", err)
	}

	if got, _ := f.r.Balance(alice, usdc); !got.Eq(uint256.NewInt(40)) {
		t.Errorf("alice = %s, want 40", got.Dec())
	}
	if got, _ := f.r.Balance(bob, usdc); !got.Eq(uint256.NewInt(60)) {
		t.Errorf("bob = %s, want 60", got.Dec())
	}
	if got := f.deltas.Get(usdc); got.Sign() != 0 {
		t.Errorf("delta = %s, want 0", got)
	}
}

func TestInternalDebitUnderflow(t *testing.T) {
	f := newFixture(t)
	f.r.Credit(alice, usdc, uint256.NewInt(5))

	err := f.r.SettleOrderIn(alice, usdc, uint256.NewInt(6), true)
	if !errors.Is(err, ErrReserveUnderflow) {
		t.Fatalf("err = %v, want ErrReserveUnderflow", err)
	}
	var ue *UnderflowError
	if !errors.As(err, &ue) || ue.Owner != alice || !ue.Have.Eq(uint256.NewInt(5)) {
		t.Fatalf("err = %#v", err)
	}
	if got, _ := f.r.Balance(alice, usdc); !got.Eq(uint256.NewInt(5)) {
		t.Errorf("balance changed on underflow: %s", got.Dec())
	}
}

func TestSettleExternalLegs(t *testing.T) {
	f := newFixture(t)
	f.bank.Mint(alice, usdc, uint256.NewInt(70))
	f.bank.Approve(alice, custody, usdc, uint256.NewInt(70))

	if err := f.r.SettleOrderIn(alice, usdc, uint256.NewInt(70), false); err != nil {
		t.Fatalf("settle in: %v", err)
	}
	if err := f.r.SettleOrderOut(bob, usdc, uint256.NewInt(50), false); err != nil {
		t.Fatalf("settle out: %v", err)
	}

	if got := f.bank.BalanceOf(custody, usdc); !got.Eq(uint256.NewInt(20)) {
		t.Errorf("custody = %s, want 20", got.Dec())
	}
	if got := f.bank.BalanceOf(bob, usdc); !got.Eq(uint256.NewInt(50)) {
		t.Errorf("bob = %s, want 50", got.Dec())
	}
	if got := f.deltas.Get(usdc); got.Cmp(big.NewInt(20)) != 0 {
		t.Errorf("delta = %s, want 20", got)
	}
}

func TestExternalInWithoutAllowance(t *testing.T) {
	f := newFixture(t)
	f.bank.Mint(alice, usdc, uint256.NewInt(10))
	err := f.r.SettleOrderIn(alice, usdc, uint256.NewInt(10), false)
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	f.bank.Mint(alice, usdc, uint256.NewInt(30))
	f.bank.Approve(alice, custody, usdc, uint256.NewInt(30))

	if err := f.r.Deposit(alice, usdc, uint256.NewInt(30)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.r.Withdraw(alice, usdc, uint256.NewInt(12)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := f.tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if got, _ := f.store.Reserve(alice, usdc); !got.Eq(uint256.NewInt(18)) {
		t.Errorf("reserve = %s, want 18", got.Dec())
	}
	if got := f.bank.BalanceOf(alice, usdc); !got.Eq(uint256.NewInt(12)) {
		t.Errorf("alice tokens = %s, want 12", got.Dec())
	}
	if got := f.deltas.Get(usdc); got.Sign() != 0 {
		t.Errorf("deposit touched deltas: %s", got)
	}
}

func TestWithdrawMoreThanReserve(t *testing.T) {
	f := newFixture(t)
	if err := f.r.Withdraw(alice, usdc, uint256.NewInt(1)); !errors.Is(err, ErrReserveUnderflow) {
		t.Fatalf("err = %v, want ErrReserveUnderflow", err)
	}
}
