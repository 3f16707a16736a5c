package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/bundlesettle/pkg/hook"
	"github.com/uhyunpark/bundlesettle/pkg/settle"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
	"github.com/uhyunpark/bundlesettle/pkg/token"
	"github.com/uhyunpark/bundlesettle/pkg/venue"
)

var (
	poolAddr = common.HexToAddress("0x9000000000000000000000000000000000000009")
	custody  = common.HexToAddress("0xC0000000000000000000000000000000000000C0")
	usdc     = common.HexToAddress("0x0000000000000000000000000000000000000A01")
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store, err := storage.OpenInMem()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bank := token.NewBank()
	bank.Mint(poolAddr, usdc, uint256.NewInt(1000))
	pool := venue.NewPool(poolAddr, custody, bank)

	var srv *Server
	s := settle.New(store, pool, bank.Account(custody), hook.NewRegistry(), custody,
		settle.WithJournals(bank, pool),
		settle.OnCommit(func(r *storage.Receipt) { srv.BroadcastReceipt(r) }),
	)
	srv = NewServer(s, store, Config{AllowedOrigins: []string{"*"}})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func bundleHex(t *testing.T, save, take, settleAmt uint64) []byte {
	t.Helper()
	bb := settle.NewBuilder()
	bb.Asset(usdc, save, take, settleAmt)
	raw, err := bb.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func post(t *testing.T, url string, raw []byte) *http.Response {
	t.Helper()
	body, _ := json.Marshal(SubmitBundleRequest{Bundle: hexutil.Bytes(raw)})
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSubmitAndQueryBundle(t *testing.T) {
	_, ts := newTestServer(t)
	raw := bundleHex(t, 10, 100, 90)

	resp := post(t, ts.URL+"/api/v1/bundles", raw)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	rcpt := decode[storage.Receipt](t, resp)
	if rcpt.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", rcpt.Sequence)
	}
	if rcpt.BundleHash != settle.Hash(raw) {
		t.Errorf("bundle hash = %s", rcpt.BundleHash.Hex())
	}

	byHash := decode[storage.Receipt](t, get(t, ts.URL+"/api/v1/bundles/"+rcpt.BundleHash.Hex()))
	if byHash.Sequence != 1 {
		t.Errorf("receipt by hash sequence = %d", byHash.Sequence)
	}

	list := decode[[]storage.Receipt](t, get(t, ts.URL+"/api/v1/bundles?limit=5"))
	if len(list) != 1 {
		t.Fatalf("list len = %d, want 1", len(list))
	}

	fees := decode[FeeInfo](t, get(t, ts.URL+"/api/v1/fees/"+usdc.Hex()))
	if fees.Saved != "10" {
		t.Errorf("saved fees = %s, want 10", fees.Saved)
	}
}

func TestSubmitNetNegativeBundle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/bundles", bundleHex(t, 10, 100, 95))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	abort := decode[AbortResponse](t, resp)
	if abort.Reason != "net_negative" {
		t.Errorf("reason = %q", abort.Reason)
	}
	if abort.Phase != string(settle.PhaseSettle) {
		t.Errorf("phase = %q", abort.Phase)
	}

	list := decode[[]storage.Receipt](t, get(t, ts.URL+"/api/v1/bundles"))
	if len(list) != 0 {
		t.Errorf("aborted bundle left %d receipts", len(list))
	}
}

func TestDecodeBundle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/bundles/decode", bundleHex(t, 1, 2, 1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/api/v1/bundles/decode", []byte{0x00})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed status = %d, want 400", resp.StatusCode)
	}
}

func TestBadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		do     func() *http.Response
		status int
	}{
		{"invalid json", func() *http.Response {
			r, err := http.Post(ts.URL+"/api/v1/bundles", "application/json", strings.NewReader("{"))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			t.Cleanup(func() { r.Body.Close() })
			return r
		}, http.StatusBadRequest},
		{"empty bundle", func() *http.Response { return post(t, ts.URL+"/api/v1/bundles", nil) }, http.StatusBadRequest},
		{"unknown hash", func() *http.Response {
			return get(t, ts.URL+"/api/v1/bundles/"+common.Hash{1}.Hex())
		}, http.StatusNotFound},
		{"short hash", func() *http.Response { return get(t, ts.URL+"/api/v1/bundles/0x12") }, http.StatusBadRequest},
		{"bad limit", func() *http.Response { return get(t, ts.URL+"/api/v1/bundles?limit=x") }, http.StatusBadRequest},
		{"bad address", func() *http.Response { return get(t, ts.URL+"/api/v1/fees/nope") }, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.do().StatusCode; got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestReserveEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	owner := common.HexToAddress("0xA11CE00000000000000000000000000000000000")

	info := decode[ReserveInfo](t, get(t, ts.URL+"/api/v1/reserves/"+owner.Hex()+"/"+usdc.Hex()))
	if info.Balance != "0" {
		t.Errorf("balance = %s, want 0", info.Balance)
	}
	if info.Owner != owner || info.Asset != usdc {
		t.Errorf("unexpected echo %+v", info)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	if resp := get(t, ts.URL+"/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWebSocketReceivesCommittedBundles(t *testing.T) {
	srv, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{channelBundles}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// The ack arrives after the subscription is recorded.
	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack["type"] != "subscribed" {
		t.Fatalf("ack = %v", ack)
	}
	if srv.hub.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", srv.hub.Clients())
	}

	post(t, ts.URL+"/api/v1/bundles", bundleHex(t, 10, 100, 90))

	var update BundleUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Type != "bundle" || update.Receipt == nil || update.Receipt.Sequence != 1 {
		t.Fatalf("unexpected update %+v", update)
	}
}
