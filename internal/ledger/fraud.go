package ledger

// AlertSeverity 描述欺诈告警的严重程度，作为分类数据透传。
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// IsValidAlertSeverity 检查给定的严重程度是否为支持的枚举值。
func IsValidAlertSeverity(severity AlertSeverity) bool {
	switch severity {
	case AlertSeverityLow, AlertSeverityMedium, AlertSeverityHigh, AlertSeverityCritical:
		return true
	default:
		return false
	}
}

// FraudAlert 是欺诈告警日志中的一条只写记录。Resolved 默认为假，
// 由范围外的处置流程翻转。
type FraudAlert struct {
	ID          uint64        `json:"id"`
	ShipmentID  uint64        `json:"shipment_id"`
	Reporter    Identity      `json:"reporter"`
	Kind        string        `json:"kind"`
	Severity    AlertSeverity `json:"severity"`
	Description string        `json:"description"`
	Height      uint64        `json:"height"`
	Resolved    bool          `json:"resolved"`
}
