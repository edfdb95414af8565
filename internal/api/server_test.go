package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/VictoryV20/SecureChain/internal/auth"
	"github.com/VictoryV20/SecureChain/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, *ledger.Engine) {
	t.Helper()
	engine := ledger.NewEngine(ledger.NewMemoryStore(), nil, nil)
	server := NewServer(":0", engine, auth.NewKeyring(nil), nil, nil)
	return server, engine
}

func postJSON(t *testing.T, caller ledger.Identity, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if caller != "" {
		req = req.WithContext(auth.WithCaller(req.Context(), caller))
	}
	return req
}

func registerParticipant(t *testing.T, server *Server, id string) {
	t.Helper()
	rec := httptest.NewRecorder()
	server.handleParticipants(rec, postJSON(t, "", "/api/v1/participants", registerParticipantRequest{ID: id, Name: id, Kind: "carrier"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", id, rec.Code, rec.Body.String())
	}
}

func TestHandleParticipants(t *testing.T) {
	server, _ := newTestServer(t)

	registerParticipant(t, server, "acme")

	rec := httptest.NewRecorder()
	server.handleParticipants(rec, postJSON(t, "", "/api/v1/participants", registerParticipantRequest{ID: "acme", Name: "again"}))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict for duplicate id, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/participants/acme", nil)
	server.handleParticipantByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get participant: status %d", rec.Code)
	}
	var got ledger.Participant
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode participant: %v", err)
	}
	if got.ID != "acme" || got.Reputation != ledger.InitialReputation {
		t.Fatalf("unexpected participant: %+v", got)
	}

	rec = httptest.NewRecorder()
	server.handleParticipantByID(rec, httptest.NewRequest(http.MethodGet, "/api/v1/participants/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", rec.Code)
	}
}

func TestShipmentLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)

	registerParticipant(t, server, "origin")
	registerParticipant(t, server, "dest")

	rec := httptest.NewRecorder()
	server.handleShipments(rec, postJSON(t, "origin", "/api/v1/shipments", createShipmentRequest{Destination: "dest", DeclaredValue: 100}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shipment: status %d body %s", rec.Code, rec.Body.String())
	}
	var shipment ledger.Shipment
	if err := json.Unmarshal(rec.Body.Bytes(), &shipment); err != nil {
		t.Fatalf("decode shipment: %v", err)
	}
	if shipment.ID != 1 || shipment.Status != ledger.StatusCreated {
		t.Fatalf("unexpected shipment: %+v", shipment)
	}

	transferPath := fmt.Sprintf("/api/v1/shipments/%d/transfer", shipment.ID)
	rec = httptest.NewRecorder()
	server.handleShipmentByID(rec, postJSON(t, "origin", transferPath, transferRequest{NewHolder: "dest"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer: status %d body %s", rec.Code, rec.Body.String())
	}

	deliveryPath := fmt.Sprintf("/api/v1/shipments/%d/delivery", shipment.ID)
	rec = httptest.NewRecorder()
	server.handleShipmentByID(rec, postJSON(t, "dest", deliveryPath, deliveryRequest{}))
	if rec.Code != http.StatusOK {
		t.Fatalf("delivery: status %d body %s", rec.Code, rec.Body.String())
	}
	var delivered ledger.Shipment
	if err := json.Unmarshal(rec.Body.Bytes(), &delivered); err != nil {
		t.Fatalf("decode delivered shipment: %v", err)
	}
	if delivered.Status != ledger.StatusDelivered {
		t.Fatalf("expected delivered status, got %s", delivered.Status)
	}

	custodyPath := fmt.Sprintf("/api/v1/shipments/%d/custody", shipment.ID)
	rec = httptest.NewRecorder()
	server.handleShipmentByID(rec, httptest.NewRequest(http.MethodGet, custodyPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("custody chain: status %d", rec.Code)
	}
	var chain []ledger.CustodyRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &chain); err != nil {
		t.Fatalf("decode custody chain: %v", err)
	}
	if len(chain) != 2 || chain[0].Sequence != 0 || chain[1].Sequence != 1 {
		t.Fatalf("unexpected custody chain: %+v", chain)
	}
}

func TestShipmentHandlerErrors(t *testing.T) {
	server, _ := newTestServer(t)

	registerParticipant(t, server, "origin")
	registerParticipant(t, server, "dest")

	t.Run("missing caller", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleShipments(rec, postJSON(t, "", "/api/v1/shipments", createShipmentRequest{Destination: "dest"}))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected unauthorized, got %d", rec.Code)
		}
	})

	t.Run("unknown shipment", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleShipmentByID(rec, httptest.NewRequest(http.MethodGet, "/api/v1/shipments/42", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected not found, got %d", rec.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if resp.Code != string(ledger.CodeShipmentNotFound) {
			t.Fatalf("unexpected error code: %s", resp.Code)
		}
	})

	t.Run("invalid shipment id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleShipmentByID(rec, httptest.NewRequest(http.MethodGet, "/api/v1/shipments/abc", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected bad request, got %d", rec.Code)
		}
	})

	t.Run("transfer by non-holder", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.handleShipments(rec, postJSON(t, "origin", "/api/v1/shipments", createShipmentRequest{Destination: "dest"}))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create shipment: status %d", rec.Code)
		}
		var shipment ledger.Shipment
		if err := json.Unmarshal(rec.Body.Bytes(), &shipment); err != nil {
			t.Fatalf("decode shipment: %v", err)
		}

		rec = httptest.NewRecorder()
		path := fmt.Sprintf("/api/v1/shipments/%d/transfer", shipment.ID)
		server.handleShipmentByID(rec, postJSON(t, "dest", path, transferRequest{NewHolder: "dest"}))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected forbidden, got %d body %s", rec.Code, rec.Body.String())
		}
	})
}

func TestFraudAlertsOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)

	registerParticipant(t, server, "origin")
	registerParticipant(t, server, "dest")
	registerParticipant(t, server, "watcher")

	rec := httptest.NewRecorder()
	server.handleShipments(rec, postJSON(t, "origin", "/api/v1/shipments", createShipmentRequest{Destination: "dest"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shipment: status %d", rec.Code)
	}
	var shipment ledger.Shipment
	if err := json.Unmarshal(rec.Body.Bytes(), &shipment); err != nil {
		t.Fatalf("decode shipment: %v", err)
	}

	rec = httptest.NewRecorder()
	server.handleAlerts(rec, postJSON(t, "watcher", "/api/v1/alerts", reportFraudRequest{
		ShipmentID:  shipment.ID,
		Kind:        "tamper",
		Severity:    "high",
		Description: "seal broken",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("report fraud: status %d body %s", rec.Code, rec.Body.String())
	}
	var alert ledger.FraudAlert
	if err := json.Unmarshal(rec.Body.Bytes(), &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.ID != 1 || alert.Severity != ledger.AlertSeverityHigh {
		t.Fatalf("unexpected alert: %+v", alert)
	}

	rec = httptest.NewRecorder()
	server.handleAlerts(rec, postJSON(t, "watcher", "/api/v1/alerts", reportFraudRequest{
		ShipmentID: shipment.ID,
		Severity:   "extreme",
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid severity, got %d", rec.Code)
	}

	// The flagged shipment now refuses transfer with a domain error.
	rec = httptest.NewRecorder()
	path := fmt.Sprintf("/api/v1/shipments/%d/transfer", shipment.ID)
	server.handleShipmentByID(rec, postJSON(t, "origin", path, transferRequest{NewHolder: "dest"}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected unprocessable entity, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.handleAlertByID(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get alert: status %d", rec.Code)
	}

	alertsPath := fmt.Sprintf("/api/v1/shipments/%d/alerts", shipment.ID)
	rec = httptest.NewRecorder()
	server.handleShipmentByID(rec, httptest.NewRequest(http.MethodGet, alertsPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts by shipment: status %d", rec.Code)
	}
	var alerts []ledger.FraudAlert
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
}

func TestHandleRisk(t *testing.T) {
	server, engine := newTestServer(t)

	registerParticipant(t, server, "acme")
	if _, err := engine.SetAnomalyProfile(context.Background(), 1, "acme", ledger.AnomalyProfile{CustodyGaps: 3}); err != nil {
		t.Fatalf("set anomaly profile: %v", err)
	}

	rec := httptest.NewRecorder()
	server.handleRisk(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/acme?declared_value=500", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("risk: status %d", rec.Code)
	}
	var resp riskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode risk: %v", err)
	}
	if resp.Risk != 40 || resp.Threshold != ledger.DefaultFraudThreshold || !resp.Admitted {
		t.Fatalf("unexpected risk response: %+v", resp)
	}

	// Unknown identities fall back to the sentinel score.
	rec = httptest.NewRecorder()
	server.handleRisk(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk/ghost", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("risk for unknown: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode risk: %v", err)
	}
	if resp.Risk != ledger.UnknownParticipantRisk || resp.Admitted {
		t.Fatalf("unexpected sentinel response: %+v", resp)
	}
}

func TestHandleFraudThreshold(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.handleFraudThreshold(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fraud-threshold", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("threshold: status %d", rec.Code)
	}
	var resp map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode threshold: %v", err)
	}
	if resp["threshold"] != ledger.DefaultFraudThreshold {
		t.Fatalf("expected default threshold, got %d", resp["threshold"])
	}
}

func TestSeedHeightResumesFromStore(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := ledger.NewEngine(store, nil, nil)
	ctx := context.Background()

	if _, err := engine.RegisterParticipant(ctx, 7, "acme", "Acme", "carrier"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 模拟重启：新服务器共享同一存储，高度必须衔接既有记录。
	server := NewServer(":0", engine, auth.NewKeyring(nil), nil, nil)
	if err := server.seedHeight(ctx); err != nil {
		t.Fatalf("seed height: %v", err)
	}
	if got := server.nextHeight(); got != 8 {
		t.Fatalf("expected next height 8 after restart, got %d", got)
	}
}
