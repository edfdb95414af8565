package securechain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "key-acme" {
			t.Errorf("expected api key header, got %q", got)
		}
		if r.URL.Path != "/api/v1/participants" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Participant{ID: req.ID, Name: req.Name, Reputation: 75, Active: true})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key-acme", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	participant, err := client.RegisterParticipant(context.Background(), RegisterRequest{ID: "acme", Name: "Acme"})
	if err != nil {
		t.Fatalf("register participant: %v", err)
	}
	if participant.ID != "acme" || participant.Reputation != 75 {
		t.Fatalf("unexpected participant: %+v", participant)
	}
}

func TestClientDecodesDomainError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"FRAUD_DETECTED","message":"fraud detected"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateShipment(context.Background(), CreateShipmentRequest{Destination: "dest"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "FRAUD_DETECTED" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientSimulateRisk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/risk/acme" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("declared_value"); got != "500" {
			t.Errorf("unexpected declared value: %s", got)
		}
		_ = json.NewEncoder(w).Encode(RiskAssessment{Participant: "acme", DeclaredValue: 500, Risk: 25, Threshold: 70, Admitted: true})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	assessment, err := client.SimulateRisk(context.Background(), "acme", 500)
	if err != nil {
		t.Fatalf("simulate risk: %v", err)
	}
	if assessment.Risk != 25 || !assessment.Admitted {
		t.Fatalf("unexpected assessment: %+v", assessment)
	}
}
