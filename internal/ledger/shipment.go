package ledger

// Status 表示货运单在生命周期中的状态。
type Status string

const (
	StatusCreated   Status = "created"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusDisputed  Status = "disputed"
	StatusFlagged   Status = "flagged"
)

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusCreated, StatusInTransit, StatusDelivered, StatusDisputed, StatusFlagged:
		return true
	default:
		return false
	}
}

// Shipment 描述一张货运单。RiskScore 在建档时一次性计算，之后不再重算。
type Shipment struct {
	ID            uint64   `json:"id"`
	Origin        Identity `json:"origin"`
	Holder        Identity `json:"holder"`
	Destination   Identity `json:"destination"`
	Product       Digest   `json:"product"`
	DeclaredValue uint64   `json:"declared_value"`
	Status        Status   `json:"status"`
	RiskScore     uint64   `json:"risk_score"`
	Flagged       bool     `json:"flagged"`
	CreatedAt     uint64   `json:"created_at"`
	UpdatedAt     uint64   `json:"updated_at"`
}

// Frozen 判断货运单是否已被标记冻结。被标记后移交与签收一律失败，
// 直到范围外的处置流程介入。
func (s *Shipment) Frozen() bool {
	return s != nil && s.Flagged
}
