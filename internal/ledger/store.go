package ledger

import "context"

// ReadTx 提供账本状态的一致性只读视图。实现返回的对象均为副本，
// 调用方可以安全修改。
type ReadTx interface {
	// Participant 按身份查找参与方，不存在时返回 ErrParticipantNotFound。
	Participant(id Identity) (*Participant, error)
	// AnomalyProfile 按身份查找异常画像，缺失时返回 (nil, nil)，语义为全零。
	AnomalyProfile(id Identity) (*AnomalyProfile, error)
	// Shipment 按编号查找货运单，不存在时返回 ErrShipmentNotFound。
	Shipment(id uint64) (*Shipment, error)
	// CustodyChain 返回货运单的监管链，按序号升序；货运单不存在时返回
	// ErrShipmentNotFound。
	CustodyChain(shipmentID uint64) ([]*CustodyRecord, error)
	// Alert 按编号查找欺诈告警，不存在时返回 ErrAlertNotFound。
	Alert(id uint64) (*FraudAlert, error)
	// AlertsByShipment 返回指定货运单的全部告警，按编号升序。
	AlertsByShipment(shipmentID uint64) ([]*FraudAlert, error)
	// FraudThreshold 返回当前的准入风险阈值。
	FraudThreshold() (uint64, error)
	// LastHeight 返回账本中已记录的最大高度，空账本返回 0。
	// 调用方据此在重启后延续单调不降的高度序列。
	LastHeight() (uint64, error)
}

// Tx 在只读视图之上提供写入能力。所有写入要么随事务整体提交，
// 要么在事务失败时整体丢弃。
type Tx interface {
	ReadTx

	PutParticipant(p *Participant) error
	PutAnomalyProfile(profile *AnomalyProfile) error
	PutShipment(s *Shipment) error
	// AppendCustody 追加监管记录。(shipment, sequence) 为只写键，
	// 任何覆盖尝试都会返回 CONFLICT 错误。
	AppendCustody(record *CustodyRecord) error
	// AppendAlert 追加欺诈告警，编号冲突时返回 CONFLICT 错误。
	AppendAlert(alert *FraudAlert) error
	// NextShipmentID 分配下一个货运单编号，单调递增、永不复用。
	NextShipmentID() (uint64, error)
	// NextAlertID 分配下一个告警编号，单调递增、永不复用。
	NextAlertID() (uint64, error)
	// SetFraudThreshold 更新准入风险阈值。
	SetFraudThreshold(threshold uint64) error
}

// Store 抽象账本状态的持久化接口。View 执行只读事务，Update 执行读写事务；
// Update 的回调返回非 nil 错误时，事务内的全部写入必须被丢弃。
type Store interface {
	View(ctx context.Context, fn func(ReadTx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
