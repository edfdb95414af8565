package ledger

// CustodyRecord 是货运单监管链中的一条只写记录。Sequence 从 0 起连续递增，
// 0 号创世记录在建档时写入且 Verified 为真；移交产生的记录 Verified 恒为假，
// 移交监管的核验不在本核心范围内。
type CustodyRecord struct {
	ShipmentID uint64   `json:"shipment_id"`
	Sequence   uint64   `json:"sequence"`
	Holder     Identity `json:"holder"`
	Height     uint64   `json:"height"`
	Location   Digest   `json:"location"`
	Verified   bool     `json:"verified"`
}
