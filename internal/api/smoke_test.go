// Package api_test runs HTTP-level smoke tests using net/http/httptest against
// an in-memory market, the in-process asset ledger and a static rate source.
// They verify:
//   - Gin router routing and middleware wiring
//   - Request validation error responses (400)
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - Owner-only routes (403 for traders)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/lotmarket/internal/api"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/rate"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/evetabi/lotmarket/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

var engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")

type wallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func testCfg(owner common.Address) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "development", Port: "8080"},
		JWT: config.JWTConfig{
			AccessSecret: "test-access-secret-abcdefghijklmnop",
			AccessTTL:    15 * time.Minute,
			ChallengeTTL: 5 * time.Minute,
		},
		Market: config.MarketConfig{
			PriceStep:       decimal.NewFromInt(100),
			Period:          24 * time.Hour,
			TaxAnchor:       24 * time.Hour,
			BaseTaxRatePct:  decimal.NewFromInt(25),
			ProtocolFeePct:  decimal.NewFromInt(10),
			ReferralSkimPct: decimal.RequireFromString("0.5"),
			OwnerAddress:    owner,
			EngineAddress:   engineAddr,
			AssetDecimals:   18,
		},
		Token: config.TokenConfig{FaucetAmount: decimal.NewFromInt(100)},
	}
}

type testServer struct {
	h     http.Handler
	mkt   *market.Market
	owner wallet
}

// buildTestRouter wires a real engine behind the router. Store and Hub are
// left nil.
func buildTestRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	owner := newWallet(t)
	cfg := testCfg(owner.addr)
	ledger := token.NewLedger(common.Address{}, 18)
	adapter, err := rate.NewAdapter(rate.NewStaticSource(fixedpoint.FromUint64(3050)), fixedpoint.FromUint64(100))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	mkt, err := market.New(cfg.Market, market.Deps{
		Asset:  ledger,
		Rates:  adapter,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	r := api.SetupRouter(api.RouterDeps{
		AuthSvc: service.NewAuthService(cfg),
		Market:  mkt,
		Ledger:  ledger,
		Cfg:     cfg,
	})
	return &testServer{h: r, mkt: mkt, owner: owner}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v (body: %s)", err, rr.Body.String())
	}
	return m
}

func data(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	body := decodeBody(t, rr)
	d, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", body)
	}
	return d
}

// login runs the challenge/sign/login flow and returns a bearer header.
func (s *testServer) login(t *testing.T, w wallet) map[string]string {
	t.Helper()
	rr := do(t, s.h, http.MethodPost, "/api/auth/challenge", fmt.Sprintf(`{"address":%q}`, w.addr.Hex()), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /api/auth/challenge = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	msg, _ := data(t, rr)["message"].(string)

	rr = do(t, s.h, http.MethodPost, "/api/auth/login",
		fmt.Sprintf(`{"address":%q,"signature":%q}`, w.addr.Hex(), w.sign(t, msg)), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /api/auth/login = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	tok, _ := data(t, rr)["access_token"].(string)
	return map[string]string{"Authorization": "Bearer " + tok}
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── Auth endpoints: validation layer ─────────────────────────────────────────

func TestChallenge_Validation(t *testing.T) {
	s := buildTestRouter(t)
	cases := []struct {
		name string
		body string
	}{
		{"missing address", `{}`},
		{"bad address", `{"address":"0x1234"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, s.h, http.MethodPost, "/api/auth/challenge", tc.body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("POST /api/auth/challenge %s = %d, want 400", tc.body, rr.Code)
			}
		})
	}
}

func TestLogin_WrongSigner(t *testing.T) {
	s := buildTestRouter(t)
	w, other := newWallet(t), newWallet(t)

	rr := do(t, s.h, http.MethodPost, "/api/auth/challenge", fmt.Sprintf(`{"address":%q}`, w.addr.Hex()), nil)
	msg, _ := data(t, rr)["message"].(string)

	rr = do(t, s.h, http.MethodPost, "/api/auth/login",
		fmt.Sprintf(`{"address":%q,"signature":%q}`, w.addr.Hex(), other.sign(t, msg)), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("login signed by another wallet = %d, want 401", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != "ERR_INVALID_SIGNATURE" {
		t.Errorf("code = %v, want ERR_INVALID_SIGNATURE", body["code"])
	}
}

// ── JWT auth middleware ───────────────────────────────────────────────────────

func TestAuthenticatedRoutes_NoToken_Returns401(t *testing.T) {
	s := buildTestRouter(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/trades"},
		{http.MethodPost, "/api/trades/estimate"},
		{http.MethodPost, "/api/settlements"},
		{http.MethodPost, "/api/referrals/claim"},
		{http.MethodGet, "/api/referrals/pending"},
		{http.MethodPost, "/api/admin/tax-rate"},
		{http.MethodGet, "/api/me"},
	}
	for _, rt := range routes {
		rr := do(t, s.h, rt.method, rt.path, `{}`, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", rt.method, rt.path, rr.Code)
		}
	}
}

func TestInvalidToken_Returns401(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodGet, "/api/me", "", map[string]string{
		"Authorization": "Bearer not.a.valid.jwt",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/me with bad JWT = %d, want 401", rr.Code)
	}
}

// ── Public reads ──────────────────────────────────────────────────────────────

func TestPublicReads(t *testing.T) {
	s := buildTestRouter(t)

	rr := do(t, s.h, http.MethodGet, "/api/rate", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /api/rate = %d, want 200", rr.Code)
	}
	if d := data(t, rr); d["rate_text"] != "3050" {
		t.Errorf("rate_text = %v, want 3050", d["rate_text"])
	}

	rr = do(t, s.h, http.MethodGet, "/api/params", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /api/params = %d, want 200", rr.Code)
	}

	rr = do(t, s.h, http.MethodGet, "/api/frames/86400", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET unknown frame = %d, want 404", rr.Code)
	}
	rr = do(t, s.h, http.MethodGet, "/api/frames/abc", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET /api/frames/abc = %d, want 400", rr.Code)
	}

	key := s.mkt.NextFrameKey()
	rr = do(t, s.h, http.MethodGet, fmt.Sprintf("/api/tax?frame=%d&price=40", key), "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /api/tax = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s.h, http.MethodGet, fmt.Sprintf("/api/tax?frame=%d&price=40", key+1), "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET /api/tax unaligned frame = %d, want 400", rr.Code)
	}
}

// ── Trade flow ────────────────────────────────────────────────────────────────

func TestTradeFlow(t *testing.T) {
	s := buildTestRouter(t)
	w := newWallet(t)
	auth := s.login(t, w)
	key := s.mkt.NextFrameKey()
	trade := fmt.Sprintf(`{"frame_key":%d,"bucket":"3000","price":"40"}`, key)

	// unfunded: the engine cannot pull the charge
	rr := do(t, s.h, http.MethodPost, "/api/trades", trade, auth)
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("unfunded trade = %d, want 402: %s", rr.Code, rr.Body.String())
	}

	if rr = do(t, s.h, http.MethodPost, "/api/token/faucet", "", auth); rr.Code != http.StatusCreated {
		t.Fatalf("POST /api/token/faucet = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if rr = do(t, s.h, http.MethodPost, "/api/token/approve", `{"amount":"100"}`, auth); rr.Code != http.StatusOK {
		t.Fatalf("POST /api/token/approve = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.h, http.MethodPost, "/api/trades/estimate", trade, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /api/trades/estimate = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.h, http.MethodPost, "/api/trades", trade, auth)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /api/trades = %d, want 201: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.h, http.MethodGet, fmt.Sprintf("/api/frames/%d/lots/3000", key), "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET lot = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	states, _ := data(t, rr)["states"].([]interface{})
	if len(states) != 1 {
		t.Fatalf("lot history = %d entries, want 1", len(states))
	}
	st, _ := states[0].(map[string]interface{})
	if owner, _ := st["owner"].(string); common.HexToAddress(owner) != w.addr {
		t.Errorf("lot owner = %v, want %s", st["owner"], w.addr)
	}

	rr = do(t, s.h, http.MethodGet, "/api/frames", "", nil)
	if body := decodeBody(t, rr); body["meta"].(map[string]interface{})["total"] != float64(1) {
		t.Errorf("frames meta = %v, want total 1", body["meta"])
	}

	// unaligned bucket is a validation error
	bad := fmt.Sprintf(`{"frame_key":%d,"bucket":"3050","price":"40"}`, key)
	if rr = do(t, s.h, http.MethodPost, "/api/trades", bad, auth); rr.Code != http.StatusBadRequest {
		t.Errorf("unaligned bucket = %d, want 400", rr.Code)
	}

	// nothing to settle yet
	if rr = do(t, s.h, http.MethodPost, "/api/settlements", "", auth); rr.Code != http.StatusNotFound {
		t.Errorf("POST /api/settlements with nothing ready = %d, want 404", rr.Code)
	}
}

// ── Owner routes ──────────────────────────────────────────────────────────────

func TestAdminRoutes(t *testing.T) {
	s := buildTestRouter(t)

	trader := s.login(t, newWallet(t))
	rr := do(t, s.h, http.MethodPost, "/api/admin/tax-rate", `{"rate":"50"}`, trader)
	if rr.Code != http.StatusForbidden {
		t.Errorf("trader POST /api/admin/tax-rate = %d, want 403", rr.Code)
	}

	owner := s.login(t, s.owner)
	rr = do(t, s.h, http.MethodPost, "/api/admin/tax-rate", `{"rate":"50"}`, owner)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner POST /api/admin/tax-rate = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	want := fixedpoint.MustDecimal("0.5")
	if got := s.mkt.Params(t.Context()).BaseTaxRate; !got.Eq(want) {
		t.Errorf("BaseTaxRate = %s, want %s", got, want)
	}

	rr = do(t, s.h, http.MethodPost, "/api/admin/protocol-fee", `{"rate":"150"}`, owner)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("protocol fee 150%% = %d, want 400", rr.Code)
	}

	rr = do(t, s.h, http.MethodPost, "/api/admin/withdraw", `{"amount":"1"}`, owner)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("withdraw from empty engine = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["code"] != "ERR_WITHDRAW_EXCEEDS_FREE" {
		t.Errorf("code = %v, want ERR_WITHDRAW_EXCEEDS_FREE", body["code"])
	}
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodPost, "/api/auth/challenge", `{}`, nil)
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	s := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS /api/auth/login = %d, want 204", rr.Code)
	}
	if allow := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("dev CORS origin = %q, want *", origin)
	}
}
