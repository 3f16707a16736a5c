package hook

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/bundlesettle/pkg/arena"
	"github.com/uhyunpark/bundlesettle/pkg/wire"
)

var (
	hookAddr = common.HexToAddress("0x1100000000000000000000000000000000000011")
	trader   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func TestEmptyHashConstant(t *testing.T) {
	want := common.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if EmptyHash != want {
		t.Fatalf("EmptyHash = %s, want %s", EmptyHash.Hex(), want.Hex())
	}
}

func TestDecodeAbsentConsumesNothing(t *testing.T) {
	for _, surrounding := range [][]byte{nil, {0x00, 0x00, 0x19}, bytes.Repeat([]byte{0xff}, 64)} {
		a := arena.New(0)
		r := wire.NewReader(surrounding)
		d, h, err := Decode(r, false, a)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if d.Present() || d != (Descriptor{}) {
			t.Errorf("descriptor = %+v, want absent", d)
		}
		if h != EmptyHash {
			t.Errorf("hash = %s, want EmptyHash", h.Hex())
		}
		if r.Offset() != 0 || a.Cursor() != 0 {
			t.Errorf("absent decode consumed input: offset=%d cursor=%d", r.Offset(), a.Cursor())
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{nil, {1, 2, 3, 4, 5}, bytes.Repeat([]byte{0xAB}, 300)}
	for _, payload := range payloads {
		rec, err := Encode(hookAddr, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		tail := []byte{0xDE, 0xAD}
		r := wire.NewReader(append(append([]byte(nil), rec...), tail...))
		a := arena.New(0)

		d, h, err := Decode(r, true, a)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if r.Offset() != len(rec) {
			t.Errorf("cursor advanced %d, want %d", r.Offset(), len(rec))
		}
		if d.Callee != hookAddr || d.PayloadLen != len(payload) || !d.Present() {
			t.Errorf("descriptor = %+v", d)
		}
		if want := crypto.Keccak256Hash(rec[3:]); h != want {
			t.Errorf("content hash = %s, want %s", h.Hex(), want.Hex())
		}
		again, err := Encode(d.Callee, Payload(a, d))
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if !bytes.Equal(again, rec) {
			t.Errorf("re-encoded record differs:\n got % x\nwant % x", again, rec)
		}
		if a.Cursor() != d.Size() {
			t.Errorf("arena cursor = %d, want %d", a.Cursor(), d.Size())
		}
	}
}

func TestDecodeRejectsShortLength(t *testing.T) {
	for _, l := range []byte{0, 1, 19} {
		raw := append([]byte{0, 0, l}, bytes.Repeat([]byte{0x01}, 40)...)
		a := arena.New(0)
		_, _, err := Decode(wire.NewReader(raw), true, a)
		if !errors.Is(err, ErrMalformedHookRecord) {
			t.Errorf("L=%d: err = %v, want ErrMalformedHookRecord", l, err)
		}
		if a.Cursor() != 0 {
			t.Errorf("L=%d: arena allocated before rejection", l)
		}
	}
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	raw := append([]byte{0, 0, 30}, bytes.Repeat([]byte{0x01}, 29)...)
	a := arena.New(0)
	if _, _, err := Decode(wire.NewReader(raw), true, a); !errors.Is(err, ErrMalformedHookRecord) {
		t.Fatalf("err = %v, want ErrMalformedHookRecord", err)
	}
	if a.Cursor() != 0 {
		t.Error("arena allocated for truncated record")
	}
}

func decodeOne(t *testing.T, a *arena.Arena, payload []byte) Descriptor {
	t.Helper()
	rec, err := Encode(hookAddr, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d, _, err := Decode(wire.NewReader(rec), true, a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

func TestTriggerAndFreeSuccess(t *testing.T) {
	a := arena.New(0)
	d := decodeOne(t, a, []byte("hello"))

	var gotFrom common.Address
	var gotPayload []byte
	reg := NewRegistry()
	reg.Register(hookAddr, ComposeFunc(func(_ context.Context, from common.Address, payload []byte) (uint32, error) {
		gotFrom, gotPayload = from, payload
		// The header slot already carries the injected caller.
		if hdr := a.Bytes(d.Ptr, 20); !bytes.Equal(hdr, trader.Bytes()) {
			t.Errorf("header = %x, want caller", hdr)
		}
		return ReturnMagic, nil
	}))

	freed, err := TriggerAndFree(context.Background(), a, reg, d, trader)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !freed || a.Cursor() != 0 {
		t.Errorf("freed=%v cursor=%d, want block reclaimed", freed, a.Cursor())
	}
	if gotFrom != trader || string(gotPayload) != "hello" {
		t.Errorf("hook saw from=%s payload=%q", gotFrom.Hex(), gotPayload)
	}
}

// L=25: 20-byte address + 5-byte payload, callee answers with the wrong word.
func TestTriggerAndFreeWrongMagicLeavesBlock(t *testing.T) {
	a := arena.New(0)
	d := decodeOne(t, a, []byte{1, 2, 3, 4, 5})
	if d.Size() != 25 {
		t.Fatalf("size = %d, want 25", d.Size())
	}

	reg := NewRegistry()
	reg.Register(hookAddr, ComposeFunc(func(context.Context, common.Address, []byte) (uint32, error) {
		return ReturnMagic + 1, nil
	}))

	freed, err := TriggerAndFree(context.Background(), a, reg, d, trader)
	if !errors.Is(err, ErrInvalidHookReturn) {
		t.Fatalf("err = %v, want ErrInvalidHookReturn", err)
	}
	if freed || a.Cursor() != 25 {
		t.Errorf("freed=%v cursor=%d, block must stay allocated", freed, a.Cursor())
	}
}

func TestTriggerAndFreeRejectsBadResponses(t *testing.T) {
	good, _ := EncodeReturn(ReturnMagic)
	tests := []struct {
		name string
		inv  Invoker
	}{
		{"call fails", InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
			return nil, errors.New("reverted")
		})},
		{"empty return", InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
			return nil, nil
		})},
		{"short return", InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
			return good[:31], nil
		})},
		{"magic left aligned", InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
			w := make([]byte, 32)
			copy(w, good[28:])
			return w, nil
		})},
		{"not a hook", NewRegistry()},
		{"no invoker", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := arena.New(0)
			d := decodeOne(t, a, []byte{9})
			if _, err := TriggerAndFree(context.Background(), a, tt.inv, d, trader); !errors.Is(err, ErrInvalidHookReturn) {
				t.Errorf("err = %v, want ErrInvalidHookReturn", err)
			}
		})
	}
}

func TestTriggerAndFreeAcceptsLongerReturn(t *testing.T) {
	a := arena.New(0)
	d := decodeOne(t, a, nil)
	inv := InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
		w, _ := EncodeReturn(ReturnMagic)
		return append(w, make([]byte, 32)...), nil
	})
	if _, err := TriggerAndFree(context.Background(), a, inv, d, trader); err != nil {
		t.Fatalf("trigger: %v", err)
	}
}

func TestTriggerAndFreeLeaksWhenNotTopmost(t *testing.T) {
	a := arena.New(0)
	d := decodeOne(t, a, []byte{1})
	a.Allocate(10)
	cursor := a.Cursor()

	inv := InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
		return EncodeReturn(ReturnMagic)
	})
	freed, err := TriggerAndFree(context.Background(), a, inv, d, trader)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if freed || a.Cursor() != cursor {
		t.Errorf("freed=%v cursor=%d, want leak at %d", freed, a.Cursor(), cursor)
	}
}

func TestTriggerAbsentIsNoop(t *testing.T) {
	called := false
	inv := InvokerFunc(func(context.Context, common.Address, []byte) ([]byte, error) {
		called = true
		return nil, nil
	})
	freed, err := TriggerAndFree(context.Background(), arena.New(0), inv, Descriptor{}, trader)
	if err != nil || freed || called {
		t.Errorf("absent trigger: freed=%v err=%v called=%v", freed, err, called)
	}
}

func TestComposeCalldataLayout(t *testing.T) {
	payload := []byte{0xCA, 0xFE}
	data, err := EncodeCompose(trader, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// selector | address word | offset word | length word | one padded data word
	if len(data) != 4+4*32 {
		t.Fatalf("calldata length = %d", len(data))
	}
	if !bytes.Equal(data[4+12:4+32], trader.Bytes()) {
		t.Errorf("address word = %x", data[4:36])
	}
	from, got, err := DecodeCompose(data)
	if err != nil || from != trader || !bytes.Equal(got, payload) {
		t.Errorf("decode: from=%s payload=%x err=%v", from.Hex(), got, err)
	}
	if _, _, err := DecodeCompose([]byte{0, 0, 0, 0}); !errors.Is(err, ErrBadSelector) {
		t.Errorf("bad selector err = %v", err)
	}
}
