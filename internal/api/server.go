package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/VictoryV20/SecureChain/internal/anchor"
	"github.com/VictoryV20/SecureChain/internal/auth"
	xerrors "github.com/VictoryV20/SecureChain/internal/errors"
	"github.com/VictoryV20/SecureChain/internal/ledger"
	"github.com/VictoryV20/SecureChain/internal/observability/metrics"
	"github.com/VictoryV20/SecureChain/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部驱动账本引擎执行状态转移。
// 服务器同时承担排序职责：每个写请求都会分配一个单调递增的高度。
type Server struct {
	addr    string
	engine  *ledger.Engine
	keyring *auth.Keyring
	notary  *anchor.Notary
	journal *anchor.Journal
	height  atomic.Uint64
}

// NewServer 构造 API 服务实例。notary 与 journal 允许为 nil，
// 此时交付完成后不执行链上锚定。
func NewServer(addr string, engine *ledger.Engine, keyring *auth.Keyring, notary *anchor.Notary, journal *anchor.Journal) *Server {
	return &Server{addr: addr, engine: engine, keyring: keyring, notary: notary, journal: journal}
}

// nextHeight 分配下一个状态转移高度。
func (s *Server) nextHeight() uint64 {
	return s.height.Add(1)
}

// seedHeight 把高度计数器对齐到存储中已记录的最大高度。
// 持久化存储重启后若不对齐，新分配的高度会低于已落盘的记录。
func (s *Server) seedHeight(ctx context.Context) error {
	last, err := s.engine.LastHeight(ctx)
	if err != nil {
		return err
	}
	s.height.Store(last)
	return nil
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if err := s.seedHeight(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/participants", s.authed(s.handleParticipants))
	mux.Handle("/api/v1/participants/", s.authed(s.handleParticipantByID))
	mux.Handle("/api/v1/anomaly-profiles", s.authed(s.handleAnomalyProfiles))
	mux.Handle("/api/v1/shipments", s.authed(s.handleShipments))
	mux.Handle("/api/v1/shipments/", s.authed(s.handleShipmentByID))
	mux.Handle("/api/v1/alerts", s.authed(s.handleAlerts))
	mux.Handle("/api/v1/alerts/", s.authed(s.handleAlertByID))
	mux.Handle("/api/v1/risk/", s.authed(s.handleRisk))
	mux.Handle("/api/v1/fraud-threshold", s.authed(s.handleFraudThreshold))
	mux.HandleFunc("/healthz", s.handleHealth)

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, metrics.Middleware("api", mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// authed 包装处理器，先解析调用方身份再进入业务逻辑。
func (s *Server) authed(handler http.HandlerFunc) http.Handler {
	return s.keyring.Middleware(handler)
}

// registerParticipantRequest 注册参与方的请求体。
type registerParticipantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req registerParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	caller := ledger.Identity(req.ID)
	if caller == "" {
		// 未显式指定 ID 时，以调用方身份自注册。
		caller, _ = auth.CallerFromContext(r.Context())
	}

	participant, err := s.engine.RegisterParticipant(r.Context(), s.nextHeight(), caller, req.Name, req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (s *Server) handleParticipantByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/participants/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "无效的参与方标识", http.StatusBadRequest)
		return
	}
	participant, err := s.engine.Participant(r.Context(), ledger.Identity(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

// anomalyProfileRequest 更新异常画像的请求体。
type anomalyProfileRequest struct {
	Participant        string `json:"participant"`
	UnusualRoutes      uint64 `json:"unusual_routes"`
	TimeDeviations     uint64 `json:"time_deviations"`
	ValueDiscrepancies uint64 `json:"value_discrepancies"`
	CustodyGaps        uint64 `json:"custody_gaps"`
}

func (s *Server) handleAnomalyProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req anomalyProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	profile, err := s.engine.SetAnomalyProfile(r.Context(), s.nextHeight(), ledger.Identity(req.Participant), ledger.AnomalyProfile{
		ID:                 ledger.Identity(req.Participant),
		UnusualRoutes:      req.UnusualRoutes,
		TimeDeviations:     req.TimeDeviations,
		ValueDiscrepancies: req.ValueDiscrepancies,
		CustodyGaps:        req.CustodyGaps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// createShipmentRequest 创建货运的请求体。
type createShipmentRequest struct {
	Destination   string        `json:"destination"`
	Product       ledger.Digest `json:"product"`
	DeclaredValue uint64        `json:"declared_value"`
}

func (s *Server) handleShipments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "缺少调用方身份", http.StatusUnauthorized)
		return
	}
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	shipment, err := s.engine.CreateShipment(r.Context(), s.nextHeight(), caller, ledger.Identity(req.Destination), req.Product, req.DeclaredValue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipment)
}

// transferRequest 转移保管权的请求体。
type transferRequest struct {
	NewHolder string        `json:"new_holder"`
	Location  ledger.Digest `json:"location"`
}

// deliveryRequest 确认交付的请求体。
type deliveryRequest struct {
	Verification ledger.Digest `json:"verification"`
}

// handleShipmentByID 分发 /api/v1/shipments/{id}[/suffix] 下的子路由。
func (s *Server) handleShipmentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/shipments/")
	idPart, suffix, _ := strings.Cut(rest, "/")
	shipmentID, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		http.Error(w, "无效的货运编号", http.StatusBadRequest)
		return
	}

	switch {
	case suffix == "" && r.Method == http.MethodGet:
		s.handleGetShipment(w, r, shipmentID)
	case suffix == "custody" && r.Method == http.MethodGet:
		s.handleGetCustody(w, r, shipmentID)
	case suffix == "alerts" && r.Method == http.MethodGet:
		s.handleShipmentAlerts(w, r, shipmentID)
	case suffix == "transfer" && r.Method == http.MethodPost:
		s.handleTransfer(w, r, shipmentID)
	case suffix == "delivery" && r.Method == http.MethodPost:
		s.handleDelivery(w, r, shipmentID)
	default:
		http.Error(w, "未知的货运操作", http.StatusNotFound)
	}
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request, id uint64) {
	shipment, err := s.engine.Shipment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (s *Server) handleGetCustody(w http.ResponseWriter, r *http.Request, id uint64) {
	chain, err := s.engine.CustodyChain(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleShipmentAlerts(w http.ResponseWriter, r *http.Request, id uint64) {
	alerts, err := s.engine.AlertsByShipment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, id uint64) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "缺少调用方身份", http.StatusUnauthorized)
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	shipment, err := s.engine.TransferCustody(r.Context(), s.nextHeight(), caller, id, ledger.Identity(req.NewHolder), req.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request, id uint64) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "缺少调用方身份", http.StatusUnauthorized)
		return
	}
	var req deliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	shipment, err := s.engine.CompleteDelivery(r.Context(), s.nextHeight(), caller, id, req.Verification)
	if err != nil {
		writeError(w, err)
		return
	}
	s.anchorDelivery(r.Context(), id)
	writeJSON(w, http.StatusOK, shipment)
}

// anchorDelivery 在交付确认后将保管链摘要锚定到外部链。
// 锚定失败只记录日志，不影响已提交的状态转移。
func (s *Server) anchorDelivery(ctx context.Context, shipmentID uint64) {
	if s.notary == nil {
		return
	}
	records, err := s.engine.CustodyChain(ctx, shipmentID)
	if err != nil {
		logger.L().Warn("读取保管链失败，跳过锚定", "shipment_id", shipmentID, "error", err)
		return
	}
	receipt, err := s.notary.Anchor(ctx, shipmentID, records)
	if err != nil {
		logger.L().Warn("链上锚定失败", "shipment_id", shipmentID, "error", err)
		return
	}
	if s.journal != nil {
		if err := s.journal.Record(receipt); err != nil {
			logger.L().Warn("锚定凭证落盘失败", "shipment_id", shipmentID, "error", err)
		}
	}
	logger.Audit().Info("保管链已锚定",
		"shipment_id", shipmentID,
		"digest", receipt.Digest,
		"block_number", receipt.BlockNumber,
	)
}

// reportFraudRequest 上报欺诈告警的请求体。
type reportFraudRequest struct {
	ShipmentID  uint64 `json:"shipment_id"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "缺少调用方身份", http.StatusUnauthorized)
		return
	}
	var req reportFraudRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	severity := ledger.AlertSeverity(req.Severity)
	if !ledger.IsValidAlertSeverity(severity) {
		http.Error(w, "无效的告警级别", http.StatusBadRequest)
		return
	}

	alert, err := s.engine.ReportFraud(r.Context(), s.nextHeight(), caller, req.ShipmentID, req.Kind, severity, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "无效的告警编号", http.StatusBadRequest)
		return
	}
	alert, err := s.engine.Alert(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// riskResponse 风险评估的响应体。
type riskResponse struct {
	Participant   string `json:"participant"`
	DeclaredValue uint64 `json:"declared_value"`
	Risk          uint64 `json:"risk"`
	Threshold     uint64 `json:"threshold"`
	Admitted      bool   `json:"admitted"`
}

// handleRisk 对 /api/v1/risk/{participant} 返回模拟风险评分。
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/risk/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "无效的参与方标识", http.StatusBadRequest)
		return
	}
	var declaredValue uint64
	if raw := r.URL.Query().Get("declared_value"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "无效的申报价值", http.StatusBadRequest)
			return
		}
		declaredValue = parsed
	}

	risk, err := s.engine.SimulateRisk(r.Context(), ledger.Identity(id), declaredValue)
	if err != nil {
		writeError(w, err)
		return
	}
	threshold, err := s.engine.FraudThreshold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, riskResponse{
		Participant:   id,
		DeclaredValue: declaredValue,
		Risk:          risk,
		Threshold:     threshold,
		Admitted:      risk < threshold,
	})
}

func (s *Server) handleFraudThreshold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	threshold, err := s.engine.FraudThreshold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"threshold": threshold})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeJSON 按统一格式输出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorResponse 错误响应体。
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError 将领域错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case ledger.CodeParticipantExists:
		status = http.StatusConflict
	case ledger.CodeParticipantNotFound, ledger.CodeShipmentNotFound, ledger.CodeAlertNotFound:
		status = http.StatusNotFound
	case ledger.CodeUnauthorized:
		status = http.StatusForbidden
	case ledger.CodeSuspended, ledger.CodeFraudDetected:
		status = http.StatusUnprocessableEntity
	case ledger.CodeInvalidThreshold, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorResponse{Code: string(xerrors.CodeOf(err)), Message: err.Error()})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
