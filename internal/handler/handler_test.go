package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/config"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/middleware"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/proxy"
	"github.com/GoPolymarket/ctf-exchange/internal/repository"
	"github.com/GoPolymarket/ctf-exchange/internal/service"
	"github.com/GoPolymarket/ctf-exchange/internal/signer"
)

const (
	deployerHex = "0x00000000000000000000000000000000000000d0"
	deskHex     = "0x00000000000000000000000000000000000000aa"
	proposerHex = "0x0000000000000000000000000000000000000090"

	opsKey      = "sk-ops"
	deskKey     = "sk-desk"
	proposerKey = "sk-prop"

	priceYes = "1000000000000000000"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Auth:   config.AuthConfig{RequireAPIKey: true},
		Chain: config.ChainConfig{
			ChainID:    137,
			Collateral: "0x000000000000000000000000000000000000c011",
			Deployer:   deployerHex,
		},
		Exchange: config.ExchangeConfig{
			Address:           "0x00000000000000000000000000000000000000e8",
			FeeRateCeilingBps: 1000,
			SafeFactory:       proxy.PolygonSafeFactory,
			SafeInitCodeHash:  proxy.SafeInitCodeHash,
		},
		Beacon: config.BeaconConfig{
			Address:               "0x00000000000000000000000000000000000beac0",
			FactoryAddress:        "0x0000000000000000000000000000000000000fac",
			ImplementationAddress: "0x0000000000000000000000000000000000001001",
		},
		Oracle: config.OracleConfig{
			Address:         "0x00000000000000000000000000000000000000c0",
			MinBond:         10,
			MinLivenessSecs: 300,
			MaxLivenessSecs: 600,
			Proposers:       []string{proposerHex},
		},
		Accounts: []config.AccountKey{
			{Name: "ops", APIKey: opsKey, Address: deployerHex},
			{Name: "desk", APIKey: deskKey, Address: deskHex},
			{Name: "prop", APIKey: proposerKey, Address: proposerHex},
		},
	}
}

type testServer struct {
	proto   *service.Protocol
	clk     *clock.Manual
	history *repository.MemoryEventLog
	router  *gin.Engine
}

func newTestServer(t *testing.T, readOnly bool) *testServer {
	t.Helper()
	cfg := testConfig()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	history := repository.NewMemoryEventLog(100)
	proto, err := service.NewProtocol(context.Background(), cfg, clk, events.NewBus(nil, history))
	require.NoError(t, err)

	router := NewRouter(Deps{
		Protocol:    proto,
		Accounts:    service.NewAccountManager(cfg),
		Idempotency: middleware.NewInMemIdempotencyStore(time.Minute),
		History:     history,
		ReadOnly:    readOnly,
	})
	return &testServer{proto: proto, clk: clk, history: history, router: router}
}

func (s *testServer) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(middleware.HeaderAPIKey, apiKey)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// openMarket registers a binary market and returns its yes token id.
func (s *testServer) openMarket(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/admin/markets", opsKey, model.MarketRequest{
		QuestionID: common.HexToHash("0x51").Hex(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["yes_token"].(string)
}

func signedBuy(t *testing.T, s *testServer, token string) (model.OrderDTO, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := signer.NewSignerFromKey(key, s.proto.Exchange.Domain())
	tokenID, ok := new(big.Int).SetString(token, 10)
	require.True(t, ok)

	order := &signer.Order{
		Salt:          big.NewInt(7),
		Maker:         maker.Address(),
		Signer:        maker.Address(),
		TokenID:       tokenID,
		MakerAmount:   big.NewInt(40),
		TakerAmount:   big.NewInt(100),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          signer.Buy,
		SignatureType: signer.EOA,
	}
	_, err = maker.SignOrder(order)
	require.NoError(t, err)
	return model.OrderToDTO(order), maker.Address()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestUnknownKeyRejected(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodGet, "/v1/accounts/me", "sk-nope", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ACCESS_DENIED", decode(t, w)["code"])
}

func TestAccountMe(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodGet, "/v1/accounts/me", opsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ops", body["name"])
	assert.Equal(t, true, body["admin"])
	assert.Equal(t, true, body["operator"])
	assert.Equal(t, "0", body["collateral"])
	assert.Equal(t, s.proto.Factory.WalletFor(common.HexToAddress(deployerHex)).Hex(), body["proxy_wallet"])
	assert.Equal(t, false, body["proxy_deployed"])
}

func TestOrderHashAndTypedData(t *testing.T) {
	s := newTestServer(t, false)
	dto, _ := signedBuy(t, s, "12345")
	order, err := dto.ToOrder()
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/v1/orders/hash", deskKey, dto)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, s.proto.Exchange.HashOrder(order).Hex(), body["digest"])
	assert.Equal(t, signer.HashOrder(order).Hex(), body["hash"])
	assert.Equal(t, "0.4", body["price"])
	assert.Equal(t, "40", body["remaining"])

	w = s.do(t, http.MethodPost, "/v1/orders/typed", deskKey, dto)
	require.Equal(t, http.StatusOK, w.Code)
	typed := decode(t, w)["typed_data"].(map[string]interface{})
	assert.Equal(t, "Order", typed["primaryType"])
}

func TestMalformedOrderIsInvalidRequest(t *testing.T) {
	s := newTestServer(t, false)
	dto, _ := signedBuy(t, s, "1")
	dto.Maker = "not-an-address"
	w := s.do(t, http.MethodPost, "/v1/orders/hash", deskKey, dto)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, w)["code"])
}

func TestFillOrderOverHTTP(t *testing.T) {
	s := newTestServer(t, false)
	yes := s.openMarket(t)
	dto, maker := signedBuy(t, s, yes)

	ledger := s.proto.Ledger
	require.NoError(t, ledger.Mint(maker, big.NewInt(40)))
	ledger.SetApprovalForAll(maker, s.proto.Exchange.Address(), true)
	require.NoError(t, ledger.Mint(common.HexToAddress(deployerHex), big.NewInt(100)))
	ledger.SetApprovalForAll(common.HexToAddress(deployerHex), s.proto.Exchange.Address(), true)

	req := model.FillRequest{Order: dto, FillAmount: "40"}
	w := s.do(t, http.MethodPost, "/v1/orders/fill", deskKey, req)
	assert.Equal(t, http.StatusForbidden, w.Code, "desk holds no operator role")

	w = s.do(t, http.MethodPost, "/v1/orders/fill", opsKey, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fill := decode(t, w)
	assert.Equal(t, "40", fill["making"])
	assert.Equal(t, "100", fill["taking"])

	tokenID, _ := new(big.Int).SetString(yes, 10)
	assert.Equal(t, int64(100), ledger.BalanceOf(maker, tokenID).Int64())

	w = s.do(t, http.MethodGet, "/v1/orders/"+fill["order_hash"].(string)+"/status", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_filled_or_cancelled"])

	w = s.do(t, http.MethodGet, "/v1/events?types=OrderFilled", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 1)
}

func TestFillRetryIsReplayed(t *testing.T) {
	s := newTestServer(t, false)
	yes := s.openMarket(t)
	dto, maker := signedBuy(t, s, yes)
	require.NoError(t, s.proto.Ledger.Mint(maker, big.NewInt(40)))
	s.proto.Ledger.SetApprovalForAll(maker, s.proto.Exchange.Address(), true)
	require.NoError(t, s.proto.Ledger.Mint(common.HexToAddress(deployerHex), big.NewInt(100)))
	s.proto.Ledger.SetApprovalForAll(common.HexToAddress(deployerHex), s.proto.Exchange.Address(), true)

	send := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(model.FillRequest{Order: dto, FillAmount: "20"})
		req := httptest.NewRequest(http.MethodPost, "/v1/orders/fill", bytes.NewReader(body))
		req.Header.Set(middleware.HeaderAPIKey, opsKey)
		req.Header.Set(middleware.HeaderIdempotencyKey, "fill-1")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}
	first, second := send(), send()
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))

	order, err := dto.ToOrder()
	require.NoError(t, err)
	assert.Equal(t, int64(20), s.proto.Exchange.GetOrderStatus(s.proto.Exchange.HashOrder(order)).Remaining.Int64())
}

func TestNonceIncrement(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodPost, "/v1/nonces/increment", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", decode(t, w)["nonce"])

	w = s.do(t, http.MethodGet, "/v1/nonces/"+deskHex, opsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", decode(t, w)["nonce"])
}

func TestAdminRoutesAndRoles(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/v1/admin/pause", deskKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/roles/operator/"+deskHex, opsKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, s.proto.Exchange.Roles().IsOperator(common.HexToAddress(deskHex)))

	w = s.do(t, http.MethodPost, "/v1/roles/operator/renounce", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.proto.Exchange.Roles().IsOperator(common.HexToAddress(deskHex)))

	w = s.do(t, http.MethodPost, "/v1/admin/roles/owner/"+deskHex, opsKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/v1/admin/fee-ceiling", opsKey, model.FeeCeilingRequest{Bps: 250})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(250), s.proto.Exchange.FeeRateCeiling())

	w = s.do(t, http.MethodPost, "/v1/admin/pause", opsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/v1/exchange", deskKey, nil)
	assert.Equal(t, true, decode(t, w)["paused"])
}

func TestReadOnlyKeepsPauseAvailable(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodPost, "/v1/admin/markets", opsKey, model.MarketRequest{QuestionID: common.HexToHash("0x1").Hex()})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/pause", opsKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.proto.Exchange.IsPaused())
}

func TestBeaconOwnerOnly(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/v1/beacon", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Normal", decode(t, w)["phase"])

	w = s.do(t, http.MethodPost, "/v1/beacon/pause", deskKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/beacon/pause", opsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Paused", decode(t, w)["phase"])
}

func TestProxyEndpoints(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/v1/proxies/predict?owner="+deskHex, deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	predicted := decode(t, w)
	assert.Equal(t, false, predicted["deployed"])

	w = s.do(t, http.MethodPost, "/v1/proxies", deskKey, model.ProxyRequest{Owner: deskHex})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, predicted["address"], created["address"])
	assert.Equal(t, true, created["created"])

	w = s.do(t, http.MethodPost, "/v1/proxies", deskKey, model.ProxyRequest{Owner: deskHex})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["created"])

	addr := created["address"].(string)
	w = s.do(t, http.MethodPost, "/v1/proxies/"+addr+"/pause", opsKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/proxies/"+addr+"/nonce", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["nonce"])

	w = s.do(t, http.MethodGet, "/v1/proxies/0x00000000000000000000000000000000000000ff", deskKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/safes/"+deskHex, deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, s.proto.Safes.WalletFor(common.HexToAddress(deskHex)).Hex(), decode(t, w)["safe"])
}

func TestOracleFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, false)
	require.NoError(t, s.proto.Ledger.Mint(common.HexToAddress(deskHex), big.NewInt(100)))
	s.proto.Ledger.SetApprovalForAll(common.HexToAddress(deskHex), s.proto.Resolver.Address(), true)

	w := s.do(t, http.MethodPost, "/v1/oracle/requests", deskKey, model.PriceRequest{
		AncillaryData:    "q: will it rain?",
		Bond:             "10",
		LivenessSeconds:  300,
		OutcomeSlotCount: 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.EqualValues(t, 2, created["outcome_slot_count"])

	w = s.do(t, http.MethodPost, "/v1/oracle/requests/"+id+"/propose", deskKey, model.ProposeRequest{Price: []string{priceYes}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/oracle/requests/"+id+"/propose", proposerKey, model.ProposeRequest{Price: []string{priceYes}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PROPOSED", decode(t, w)["phase"])

	s.clk.Warp(300 * time.Second)
	w = s.do(t, http.MethodPost, "/v1/oracle/requests/"+id+"/settle", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SETTLED", decode(t, w)["phase"])

	w = s.do(t, http.MethodPost, "/v1/oracle/requests/"+id+"/report", deskKey, model.ReportRequest{OutcomeSlotCount: 3})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/v1/oracle/requests/"+id+"/report", deskKey, model.ReportRequest{OutcomeSlotCount: 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []interface{}{"1", "0"}, decode(t, w)["payouts"])

	w = s.do(t, http.MethodGet, "/v1/oracle/requests?phase=settled", deskKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["requests"], 1)

	w = s.do(t, http.MethodGet, "/v1/oracle/requests/"+common.HexToHash("0xdead").Hex(), deskKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
