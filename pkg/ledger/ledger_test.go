package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/token"
	"github.com/uhyunpark/bundlesettle/pkg/venue"
)

var (
	poolAddr = common.HexToAddress("0x9000000000000000000000000000000000000009")
	custody  = common.HexToAddress("0xC0000000000000000000000000000000000000C0")
	lp       = common.HexToAddress("0xDD00000000000000000000000000000000000000")
	usdc     = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	weth     = common.HexToAddress("0x0000000000000000000000000000000000000B02")
)

type feeMap map[common.Address]*uint256.Int

func (f feeMap) AddSavedFees(asset common.Address, amount *uint256.Int) error {
	cur, ok := f[asset]
	if !ok {
		cur = new(uint256.Int)
	}
	f[asset] = new(uint256.Int).Add(cur, amount)
	return nil
}

func newTestLedger(t *testing.T, liquidity uint64) (*Ledger, *venue.Pool, feeMap) {
	t.Helper()
	bank := token.NewBank()
	bank.Mint(poolAddr, usdc, uint256.NewInt(liquidity))
	pool := venue.NewPool(poolAddr, custody, bank)
	fees := feeMap{}
	return New(NewDeltas(), fees, pool, custody), pool, fees
}

func TestDeltasSigned(t *testing.T) {
	d := NewDeltas()
	d.Add(usdc, uint256.NewInt(5))
	if got := d.Sub(usdc, uint256.NewInt(8)); got.Cmp(big.NewInt(-3)) != 0 {
		t.Fatalf("delta = %s, want -3", got)
	}
	if !d.Negative(usdc) {
		t.Fatal("expected negative delta")
	}
	if got := d.Get(weth); got.Sign() != 0 {
		t.Errorf("untouched asset = %s, want 0", got)
	}

	var nn *NetNegativeError
	if err := d.CheckNonNegative(); !errors.As(err, &nn) || nn.Asset != usdc {
		t.Fatalf("err = %v, want NetNegativeError on usdc", err)
	}

	d.Add(usdc, uint256.NewInt(3))
	if err := d.CheckNonNegative(); err != nil {
		t.Fatalf("balanced deltas: %v", err)
	}
}

func TestDeltasAssetsOrdered(t *testing.T) {
	d := NewDeltas()
	d.Add(weth, uint256.NewInt(1))
	d.Add(usdc, uint256.NewInt(1))
	got := d.Assets()
	if len(got) != 2 || got[0] != usdc || got[1] != weth {
		t.Fatalf("assets = %v", got)
	}
}

func TestTakeSaveSettleBalances(t *testing.T) {
	l, pool, fees := newTestLedger(t, 1000)

	if err := l.RecordTake(usdc, uint256.NewInt(100)); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := l.RecordSaveAndSettle(usdc, uint256.NewInt(10), uint256.NewInt(90)); err != nil {
		t.Fatalf("save and settle: %v", err)
	}

	if got := l.Deltas().Get(usdc); got.Sign() != 0 {
		t.Errorf("delta = %s, want 0", got)
	}
	if got := fees[usdc]; got == nil || !got.Eq(uint256.NewInt(10)) {
		t.Errorf("fees = %v, want 10", got)
	}
	if got := pool.Liquidity(usdc); !got.Eq(uint256.NewInt(990)) {
		t.Errorf("liquidity = %s, want 990", got.Dec())
	}
	if got := pool.Paid(usdc); !got.Eq(uint256.NewInt(90)) {
		t.Errorf("paid = %s, want 90", got.Dec())
	}
}

func TestSettleBeyondTakeIsNetNegative(t *testing.T) {
	l, pool, fees := newTestLedger(t, 1000)

	if err := l.RecordTake(usdc, uint256.NewInt(100)); err != nil {
		t.Fatalf("take: %v", err)
	}
	err := l.RecordSaveAndSettle(usdc, uint256.NewInt(10), uint256.NewInt(95))
	if !errors.Is(err, ErrBundleChangeNetNegative) {
		t.Fatalf("err = %v, want ErrBundleChangeNetNegative", err)
	}
	var nn *NetNegativeError
	if !errors.As(err, &nn) || nn.Delta.Cmp(big.NewInt(-5)) != 0 {
		t.Fatalf("err = %#v, want delta -5", err)
	}
	if len(fees) != 0 {
		t.Errorf("fees booked on failure: %v", fees)
	}
	if got := pool.Paid(usdc); !got.IsZero() {
		t.Errorf("paid = %s, want 0", got.Dec())
	}
}

func TestSaveAndSettleOverflow(t *testing.T) {
	l, _, _ := newTestLedger(t, 0)
	top := new(uint256.Int).SetAllOne()
	err := l.RecordSaveAndSettle(usdc, top, uint256.NewInt(1))
	if !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("err = %v, want ErrAmountOverflow", err)
	}
}

func TestTakeWithoutLiquidity(t *testing.T) {
	l, _, _ := newTestLedger(t, 10)
	err := l.RecordTake(usdc, uint256.NewInt(11))
	if !errors.Is(err, venue.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
	if got := l.Deltas().Get(usdc); got.Sign() != 0 {
		t.Errorf("delta moved on failed take: %s", got)
	}
}

func TestRewardCreditsRecipient(t *testing.T) {
	l, pool, _ := newTestLedger(t, 1000)
	if err := l.RecordTake(usdc, uint256.NewInt(30)); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := l.SettleRewardTo(lp, usdc, uint256.NewInt(30)); err != nil {
		t.Fatalf("reward: %v", err)
	}
	if got := pool.ClaimOf(lp, usdc); !got.Eq(uint256.NewInt(30)) {
		t.Errorf("claim = %s, want 30", got.Dec())
	}
	if err := l.SettleRewardTo(lp, usdc, new(uint256.Int)); err != nil {
		t.Fatalf("zero reward: %v", err)
	}
}

// Everything taken is either saved, settled, or left as a positive delta.
func TestConservation(t *testing.T) {
	l, pool, fees := newTestLedger(t, 1000)
	for _, amt := range []uint64{40, 25, 35} {
		if err := l.RecordTake(usdc, uint256.NewInt(amt)); err != nil {
			t.Fatalf("take: %v", err)
		}
	}
	if err := l.RecordSaveAndSettle(usdc, uint256.NewInt(7), uint256.NewInt(80)); err != nil {
		t.Fatalf("save and settle: %v", err)
	}
	left := l.Deltas().Get(usdc).Uint64()
	if total := fees[usdc].Uint64() + pool.Paid(usdc).Uint64() + left; total != 100 {
		t.Fatalf("saved+settled+left = %d, want 100", total)
	}
}
