package securechain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the SecureChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// Participant mirrors the registry projection returned by the API.
type Participant struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	Reputation       int    `json:"reputation"`
	TotalShipments   uint64 `json:"total_shipments"`
	FlaggedIncidents uint64 `json:"flagged_incidents"`
	Active           bool   `json:"active"`
	RegisteredAt     uint64 `json:"registered_at"`
}

// Shipment mirrors the shipment projection returned by the API.
type Shipment struct {
	ID            uint64 `json:"id"`
	Origin        string `json:"origin"`
	Holder        string `json:"holder"`
	Destination   string `json:"destination"`
	Product       string `json:"product"`
	DeclaredValue uint64 `json:"declared_value"`
	Status        string `json:"status"`
	RiskScore     uint64 `json:"risk_score"`
	Flagged       bool   `json:"flagged"`
	CreatedAt     uint64 `json:"created_at"`
	UpdatedAt     uint64 `json:"updated_at"`
}

// CustodyRecord mirrors one link of a shipment's custody chain.
type CustodyRecord struct {
	ShipmentID uint64 `json:"shipment_id"`
	Sequence   uint64 `json:"sequence"`
	Holder     string `json:"holder"`
	Height     uint64 `json:"height"`
	Location   string `json:"location"`
	Verified   bool   `json:"verified"`
}

// FraudAlert mirrors one entry of the fraud alert log.
type FraudAlert struct {
	ID          uint64 `json:"id"`
	ShipmentID  uint64 `json:"shipment_id"`
	Reporter    string `json:"reporter"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Height      uint64 `json:"height"`
	Resolved    bool   `json:"resolved"`
}

// RiskAssessment is the response of the risk simulation endpoint.
type RiskAssessment struct {
	Participant   string `json:"participant"`
	DeclaredValue uint64 `json:"declared_value"`
	Risk          uint64 `json:"risk"`
	Threshold     uint64 `json:"threshold"`
	Admitted      bool   `json:"admitted"`
}

// RegisterRequest is the payload for registering a participant.
type RegisterRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// CreateShipmentRequest is the payload for opening a shipment.
type CreateShipmentRequest struct {
	Destination   string `json:"destination"`
	Product       string `json:"product,omitempty"`
	DeclaredValue uint64 `json:"declared_value"`
}

// TransferRequest is the payload for a custody transfer.
type TransferRequest struct {
	NewHolder string `json:"new_holder"`
	Location  string `json:"location,omitempty"`
}

// DeliveryRequest is the payload for a delivery confirmation.
type DeliveryRequest struct {
	Verification string `json:"verification,omitempty"`
}

// ReportFraudRequest is the payload for filing a fraud alert.
type ReportFraudRequest struct {
	ShipmentID  uint64 `json:"shipment_id"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// APIError represents server side validation or domain errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("securechain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("securechain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the SecureChain API. The apiKey is sent
// with every request; pass an empty key against servers running in open mode.
// When httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL, apiKey string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, apiKey: apiKey}, nil
}

// RegisterParticipant registers a new participant identity.
func (c *Client) RegisterParticipant(ctx context.Context, req RegisterRequest) (Participant, error) {
	var participant Participant
	if err := c.post(ctx, "/api/v1/participants", req, &participant); err != nil {
		return Participant{}, err
	}
	return participant, nil
}

// Participant fetches a participant by identity.
func (c *Client) Participant(ctx context.Context, id string) (Participant, error) {
	var participant Participant
	if err := c.get(ctx, "/api/v1/participants/"+url.PathEscape(id), &participant); err != nil {
		return Participant{}, err
	}
	return participant, nil
}

// CreateShipment opens a shipment with the caller as origin and first holder.
func (c *Client) CreateShipment(ctx context.Context, req CreateShipmentRequest) (Shipment, error) {
	var shipment Shipment
	if err := c.post(ctx, "/api/v1/shipments", req, &shipment); err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

// Shipment fetches a shipment by id.
func (c *Client) Shipment(ctx context.Context, id uint64) (Shipment, error) {
	var shipment Shipment
	if err := c.get(ctx, fmt.Sprintf("/api/v1/shipments/%d", id), &shipment); err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

// TransferCustody hands the shipment to a new holder.
func (c *Client) TransferCustody(ctx context.Context, shipmentID uint64, req TransferRequest) (Shipment, error) {
	var shipment Shipment
	if err := c.post(ctx, fmt.Sprintf("/api/v1/shipments/%d/transfer", shipmentID), req, &shipment); err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

// CompleteDelivery confirms receipt at the destination.
func (c *Client) CompleteDelivery(ctx context.Context, shipmentID uint64, req DeliveryRequest) (Shipment, error) {
	var shipment Shipment
	if err := c.post(ctx, fmt.Sprintf("/api/v1/shipments/%d/delivery", shipmentID), req, &shipment); err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

// CustodyChain fetches the custody chain of a shipment.
func (c *Client) CustodyChain(ctx context.Context, shipmentID uint64) ([]CustodyRecord, error) {
	var chain []CustodyRecord
	if err := c.get(ctx, fmt.Sprintf("/api/v1/shipments/%d/custody", shipmentID), &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// ReportFraud files a fraud alert against a shipment.
func (c *Client) ReportFraud(ctx context.Context, req ReportFraudRequest) (FraudAlert, error) {
	var alert FraudAlert
	if err := c.post(ctx, "/api/v1/alerts", req, &alert); err != nil {
		return FraudAlert{}, err
	}
	return alert, nil
}

// ShipmentAlerts fetches every alert filed against a shipment.
func (c *Client) ShipmentAlerts(ctx context.Context, shipmentID uint64) ([]FraudAlert, error) {
	var alerts []FraudAlert
	if err := c.get(ctx, fmt.Sprintf("/api/v1/shipments/%d/alerts", shipmentID), &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// SimulateRisk previews the risk score a shipment from the participant
// would be admitted with.
func (c *Client) SimulateRisk(ctx context.Context, participant string, declaredValue uint64) (RiskAssessment, error) {
	endpoint := fmt.Sprintf("/api/v1/risk/%s?declared_value=%d", url.PathEscape(participant), declaredValue)
	var assessment RiskAssessment
	if err := c.get(ctx, endpoint, &assessment); err != nil {
		return RiskAssessment{}, err
	}
	return assessment, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
