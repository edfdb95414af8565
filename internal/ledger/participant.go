package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/VictoryV20/SecureChain/internal/errors"
)

// Identity 是参与方的全局唯一标识，由外部认证组件提供，引擎不做解释。
type Identity string

// Digest 是 32 字节的不透明摘要，仅透传、不校验。
type Digest = common.Hash

// 信誉与准入相关的常量。
const (
	MinReputation     = 0
	MaxReputation     = 100
	InitialReputation = 75

	// TrustReputationFloor 与 TrustIncidentCeiling 共同构成可信判定。
	TrustReputationFloor = 50
	TrustIncidentCeiling = 5

	// DefaultFraudThreshold 是准入风险阈值的初始值，risk >= threshold 即拒绝。
	DefaultFraudThreshold uint64 = 70

	// FlagRiskFloor 是建档时独立评估的标记阈值，与准入阈值刻意解耦。
	FlagRiskFloor uint64 = 50

	// UnknownParticipantRisk 是身份缺失时的兜底风险值。正常调用路径先校验
	// 注册再计算风险，不应触达该值。
	UnknownParticipantRisk uint64 = 100
)

// Participant 描述一个已注册的参与方。
type Participant struct {
	ID               Identity `json:"id"`
	Name             string   `json:"name"`
	Kind             string   `json:"kind"`
	Reputation       int      `json:"reputation"`
	TotalShipments   uint64   `json:"total_shipments"`
	FlaggedIncidents uint64   `json:"flagged_incidents"`
	Active           bool     `json:"active"`
	RegisteredAt     uint64   `json:"registered_at"`
}

// Trustworthy 判断参与方是否通过可信校验：已注册、启用、信誉达标且事故未超限。
func (p *Participant) Trustworthy() bool {
	if p == nil {
		return false
	}
	return p.Active && p.Reputation >= TrustReputationFloor && p.FlaggedIncidents < TrustIncidentCeiling
}

// AnomalyProfile 保存外部聚合的行为异常计数，缺失视为全零。
type AnomalyProfile struct {
	ID                 Identity `json:"id"`
	UnusualRoutes      uint64   `json:"unusual_routes"`
	TimeDeviations     uint64   `json:"time_deviations"`
	ValueDiscrepancies uint64   `json:"value_discrepancies"`
	CustodyGaps        uint64   `json:"custody_gaps"`
	LastAnomalyAt      uint64   `json:"last_anomaly_at"`
}

// Sum 返回四项异常计数之和。
func (a *AnomalyProfile) Sum() uint64 {
	if a == nil {
		return 0
	}
	return a.UnusualRoutes + a.TimeDeviations + a.ValueDiscrepancies + a.CustodyGaps
}

var (
	// ErrAlreadyRegistered 表示身份已注册。
	ErrAlreadyRegistered = xerrors.New(CodeParticipantExists, "participant already registered")
	// ErrParticipantNotFound 表示引用了未注册的参与方。
	ErrParticipantNotFound = xerrors.New(CodeParticipantNotFound, "participant not found")
	// ErrShipmentNotFound 表示指定的货运单不存在。
	ErrShipmentNotFound = xerrors.New(CodeShipmentNotFound, "shipment not found")
	// ErrAlertNotFound 表示指定的欺诈告警不存在。
	ErrAlertNotFound = xerrors.New(CodeAlertNotFound, "fraud alert not found")
	// ErrUnauthorized 表示调用方与目标实体不具备所需关系。
	ErrUnauthorized = xerrors.New(CodeUnauthorized, "caller not authorized")
	// ErrSuspended 表示目标参与方未通过可信校验。
	ErrSuspended = xerrors.New(CodeSuspended, "participant failed trust check")
	// ErrFraudDetected 表示风险超过阈值或货运单已被标记。
	ErrFraudDetected = xerrors.New(CodeFraudDetected, "fraud detected", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidThreshold 表示提交的欺诈阈值不合法。
	ErrInvalidThreshold = xerrors.New(CodeInvalidThreshold, "invalid fraud threshold")
)

const (
	CodeParticipantExists   xerrors.Code = "PARTICIPANT_EXISTS"
	CodeParticipantNotFound xerrors.Code = "PARTICIPANT_NOT_FOUND"
	CodeShipmentNotFound    xerrors.Code = "SHIPMENT_NOT_FOUND"
	CodeAlertNotFound       xerrors.Code = "ALERT_NOT_FOUND"
	CodeUnauthorized        xerrors.Code = "CALLER_UNAUTHORIZED"
	CodeSuspended           xerrors.Code = "PARTICIPANT_SUSPENDED"
	CodeFraudDetected       xerrors.Code = "FRAUD_DETECTED"
	CodeInvalidThreshold    xerrors.Code = "INVALID_THRESHOLD"
)

func init() {
	xerrors.Register(CodeParticipantExists, xerrors.Attributes{
		Message:  "participant already registered",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeParticipantNotFound, xerrors.Attributes{
		Message:  "participant not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeShipmentNotFound, xerrors.Attributes{
		Message:  "shipment not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAlertNotFound, xerrors.Attributes{
		Message:  "fraud alert not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUnauthorized, xerrors.Attributes{
		Message:  "caller not authorized",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeSuspended, xerrors.Attributes{
		Message:  "participant failed trust check",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeFraudDetected, xerrors.Attributes{
		Message:  "fraud detected",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeInvalidThreshold, xerrors.Attributes{
		Message:  "invalid fraud threshold",
		Severity: xerrors.SeverityInfo,
	})
}
