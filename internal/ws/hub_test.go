package ws_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/domain"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/evetabi/lotmarket/internal/ws"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// tokenAuth treats the token text as a hex address.
type tokenAuth struct{}

func (tokenAuth) ParseAccessToken(token string) (*service.AppClaims, error) {
	if !common.IsHexAddress(token) {
		return nil, domain.ErrTokenInvalid
	}
	return &service.AppClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: token}}, nil
}

type testHub struct {
	hub *ws.Hub
	url string
}

func startHub(t *testing.T) *testHub {
	t.Helper()
	hub := ws.NewHub(tokenAuth{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testHub{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

// dial connects and waits until the hub has registered want clients.
func (h *testHub) dial(t *testing.T, token string, want int) *websocket.Conn {
	t.Helper()
	url := h.url
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.hub.ConnectedCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("ConnectedCount() = %d, want %d", h.hub.ConnectedCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("message is not JSON: %v (%s)", err, data)
	}
	return m
}

func addrOf(v interface{}) common.Address {
	s, _ := v.(string)
	return common.HexToAddress(s)
}

func resale() domain.TradeReceipt {
	return domain.TradeReceipt{
		FrameKey:      86400,
		Bucket:        fixedpoint.FromUint64(3000),
		StateIndex:    1,
		State:         domain.LotState{Owner: bob, AcquisitionPrice: fixedpoint.FromUint64(30)},
		PreviousOwner: alice,
		Resale:        true,
		Tax:           fixedpoint.FromUint64(2),
		Refunded:      big.NewInt(40),
	}
}

func TestPublish_LotTradedBroadcast(t *testing.T) {
	h := startHub(t)
	conn := h.dial(t, "", 1)

	h.hub.Publish(market.EventLotTraded, resale())

	msg := readMessage(t, conn)
	if msg["type"] != string(ws.MsgTypeLotTraded) {
		t.Fatalf("type = %v, want %s", msg["type"], ws.MsgTypeLotTraded)
	}
	if addrOf(msg["owner"]) != bob || addrOf(msg["previous_owner"]) != alice {
		t.Errorf("owner/previous = %v/%v, want %s/%s", msg["owner"], msg["previous_owner"], bob, alice)
	}
	if msg["frame_key"] != float64(86400) {
		t.Errorf("frame_key = %v, want 86400", msg["frame_key"])
	}
}

func TestPublish_DisplacedOwnerNotified(t *testing.T) {
	h := startHub(t)
	conn := h.dial(t, alice.Hex(), 1)

	h.hub.Publish(market.EventLotTraded, resale())

	// the broadcast and the private notice travel different paths
	got := map[interface{}]map[string]interface{}{}
	for i := 0; i < 2; i++ {
		msg := readMessage(t, conn)
		got[msg["type"]] = msg
	}
	if _, ok := got[string(ws.MsgTypeLotTraded)]; !ok {
		t.Errorf("no %s message, got %v", ws.MsgTypeLotTraded, got)
	}
	msg, ok := got[string(ws.MsgTypeLotDisplaced)]
	if !ok {
		t.Fatalf("no %s message, got %v", ws.MsgTypeLotDisplaced, got)
	}
	if addrOf(msg["new_owner"]) != bob || msg["refunded"] != "40" {
		t.Errorf("displaced = %v", msg)
	}
}

func TestPublish_RateSetAndSettled(t *testing.T) {
	h := startHub(t)
	conn := h.dial(t, "", 1)

	h.hub.Publish(market.EventRateSet, domain.Frame{
		Key: 86400, State: domain.FrameRateSet, ClosingRate: fixedpoint.FromUint64(3050), RateOverridden: true,
	})
	msg := readMessage(t, conn)
	if msg["type"] != string(ws.MsgTypeRateSet) || msg["overridden"] != true || msg["rate_text"] != "3050" {
		t.Errorf("rate_set message = %v", msg)
	}

	h.hub.Publish(market.EventFrameSettled, domain.Settlement{FrameKey: 86400, Winner: bob})
	msg = readMessage(t, conn)
	if msg["type"] != string(ws.MsgTypeFrameSettled) {
		t.Fatalf("type = %v, want %s", msg["type"], ws.MsgTypeFrameSettled)
	}
	settlement, _ := msg["settlement"].(map[string]interface{})
	if addrOf(settlement["winner"]) != bob {
		t.Errorf("settlement winner = %v, want %s", settlement["winner"], bob)
	}
}

func TestBroadcastRateUpdate(t *testing.T) {
	h := startHub(t)
	first := h.dial(t, "", 1)
	second := h.dial(t, bob.Hex(), 2)

	h.hub.BroadcastRateUpdate(ws.RateUpdateMessage{
		Rate: fixedpoint.FromUint64(3050), RateText: "3050", NextFrame: 86400, TimeLeftSeconds: 10,
	})
	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		if msg["type"] != string(ws.MsgTypeRateUpdate) || msg["time_left_seconds"] != float64(10) {
			t.Errorf("rate_update = %v", msg)
		}
	}
}
