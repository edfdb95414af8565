package ledger

import (
	"context"
	"sort"
	"sync"

	xerrors "github.com/VictoryV20/SecureChain/internal/errors"
)

// MemoryStore 以内存方式保存账本状态，用于测试与单机运行。
// 读写事务在互斥锁下串行执行；写事务先缓冲全部变更，回调成功后一次性落盘，
// 失败则整体丢弃，保证不产生部分写入。
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	participants map[Identity]*Participant
	profiles     map[Identity]*AnomalyProfile
	shipments    map[uint64]*Shipment
	custody      map[uint64][]*CustodyRecord
	alerts       map[uint64]*FraudAlert
	// 三个标量计数器。编号从 1 起分配。
	nextShipmentID uint64
	nextAlertID    uint64
	threshold      uint64
}

// NewMemoryStore 创建 MemoryStore，欺诈阈值取默认值。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		participants:   make(map[Identity]*Participant),
		profiles:       make(map[Identity]*AnomalyProfile),
		shipments:      make(map[uint64]*Shipment),
		custody:        make(map[uint64][]*CustodyRecord),
		alerts:         make(map[uint64]*FraudAlert),
		nextShipmentID: 1,
		nextAlertID:    1,
		threshold:      DefaultFraudThreshold,
	}}
}

// View 实现 Store 接口。
func (m *MemoryStore) View(_ context.Context, fn func(ReadTx) error) error {
	if fn == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "事务回调不能为空")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: &m.state})
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(_ context.Context, fn func(Tx) error) error {
	if fn == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "事务回调不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{base: &m.state}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// memTx 在基础状态之上缓冲未提交的写入，读取时优先命中缓冲。
type memTx struct {
	base *memState

	participants map[Identity]*Participant
	profiles     map[Identity]*AnomalyProfile
	shipments    map[uint64]*Shipment
	custody      map[uint64][]*CustodyRecord
	alerts       []*FraudAlert

	allocShipments uint64
	allocAlerts    uint64
	threshold      *uint64
}

// Participant 实现 ReadTx 接口。
func (t *memTx) Participant(id Identity) (*Participant, error) {
	if p, ok := t.participants[id]; ok {
		return cloneParticipant(p), nil
	}
	if p, ok := t.base.participants[id]; ok {
		return cloneParticipant(p), nil
	}
	return nil, ErrParticipantNotFound
}

// AnomalyProfile 实现 ReadTx 接口。缺失返回 (nil, nil)。
func (t *memTx) AnomalyProfile(id Identity) (*AnomalyProfile, error) {
	if profile, ok := t.profiles[id]; ok {
		return cloneProfile(profile), nil
	}
	if profile, ok := t.base.profiles[id]; ok {
		return cloneProfile(profile), nil
	}
	return nil, nil
}

// Shipment 实现 ReadTx 接口。
func (t *memTx) Shipment(id uint64) (*Shipment, error) {
	if s, ok := t.shipments[id]; ok {
		return cloneShipment(s), nil
	}
	if s, ok := t.base.shipments[id]; ok {
		return cloneShipment(s), nil
	}
	return nil, ErrShipmentNotFound
}

// CustodyChain 实现 ReadTx 接口。
func (t *memTx) CustodyChain(shipmentID uint64) ([]*CustodyRecord, error) {
	if _, err := t.Shipment(shipmentID); err != nil {
		return nil, err
	}
	chain := make([]*CustodyRecord, 0, len(t.base.custody[shipmentID])+len(t.custody[shipmentID]))
	for _, record := range t.base.custody[shipmentID] {
		chain = append(chain, cloneCustody(record))
	}
	for _, record := range t.custody[shipmentID] {
		chain = append(chain, cloneCustody(record))
	}
	return chain, nil
}

// Alert 实现 ReadTx 接口。
func (t *memTx) Alert(id uint64) (*FraudAlert, error) {
	for _, alert := range t.alerts {
		if alert.ID == id {
			return cloneAlert(alert), nil
		}
	}
	if alert, ok := t.base.alerts[id]; ok {
		return cloneAlert(alert), nil
	}
	return nil, ErrAlertNotFound
}

// AlertsByShipment 实现 ReadTx 接口。
func (t *memTx) AlertsByShipment(shipmentID uint64) ([]*FraudAlert, error) {
	var results []*FraudAlert
	for _, alert := range t.base.alerts {
		if alert.ShipmentID == shipmentID {
			results = append(results, cloneAlert(alert))
		}
	}
	for _, alert := range t.alerts {
		if alert.ShipmentID == shipmentID {
			results = append(results, cloneAlert(alert))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// LastHeight 实现 ReadTx 接口。
func (t *memTx) LastHeight() (uint64, error) {
	var highest uint64
	bump := func(h uint64) {
		if h > highest {
			highest = h
		}
	}
	for _, p := range t.base.participants {
		bump(p.RegisteredAt)
	}
	for _, p := range t.participants {
		bump(p.RegisteredAt)
	}
	for _, profile := range t.base.profiles {
		bump(profile.LastAnomalyAt)
	}
	for _, profile := range t.profiles {
		bump(profile.LastAnomalyAt)
	}
	for _, s := range t.base.shipments {
		bump(s.UpdatedAt)
	}
	for _, s := range t.shipments {
		bump(s.UpdatedAt)
	}
	for _, alert := range t.base.alerts {
		bump(alert.Height)
	}
	for _, alert := range t.alerts {
		bump(alert.Height)
	}
	return highest, nil
}

// FraudThreshold 实现 ReadTx 接口。
func (t *memTx) FraudThreshold() (uint64, error) {
	if t.threshold != nil {
		return *t.threshold, nil
	}
	return t.base.threshold, nil
}

// PutParticipant 实现 Tx 接口。
func (t *memTx) PutParticipant(p *Participant) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "参与方记录不完整")
	}
	if t.participants == nil {
		t.participants = make(map[Identity]*Participant)
	}
	t.participants[p.ID] = cloneParticipant(p)
	return nil
}

// PutAnomalyProfile 实现 Tx 接口。
func (t *memTx) PutAnomalyProfile(profile *AnomalyProfile) error {
	if profile == nil || profile.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "异常画像记录不完整")
	}
	if t.profiles == nil {
		t.profiles = make(map[Identity]*AnomalyProfile)
	}
	t.profiles[profile.ID] = cloneProfile(profile)
	return nil
}

// PutShipment 实现 Tx 接口。
func (t *memTx) PutShipment(s *Shipment) error {
	if s == nil || s.ID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "货运单记录不完整")
	}
	if t.shipments == nil {
		t.shipments = make(map[uint64]*Shipment)
	}
	t.shipments[s.ID] = cloneShipment(s)
	return nil
}

// AppendCustody 实现 Tx 接口。只接受紧接链尾的序号，覆盖与跳号一律拒绝。
func (t *memTx) AppendCustody(record *CustodyRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "监管记录不能为空")
	}
	next := uint64(len(t.base.custody[record.ShipmentID]) + len(t.custody[record.ShipmentID]))
	if record.Sequence != next {
		return xerrors.New(xerrors.CodeConflict, "监管记录序号与链尾不连续")
	}
	if t.custody == nil {
		t.custody = make(map[uint64][]*CustodyRecord)
	}
	t.custody[record.ShipmentID] = append(t.custody[record.ShipmentID], cloneCustody(record))
	return nil
}

// AppendAlert 实现 Tx 接口。
func (t *memTx) AppendAlert(alert *FraudAlert) error {
	if alert == nil || alert.ID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "告警记录不完整")
	}
	if _, ok := t.base.alerts[alert.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "告警编号已存在")
	}
	for _, staged := range t.alerts {
		if staged.ID == alert.ID {
			return xerrors.New(xerrors.CodeConflict, "告警编号已存在")
		}
	}
	t.alerts = append(t.alerts, cloneAlert(alert))
	return nil
}

// NextShipmentID 实现 Tx 接口。
func (t *memTx) NextShipmentID() (uint64, error) {
	id := t.base.nextShipmentID + t.allocShipments
	t.allocShipments++
	return id, nil
}

// NextAlertID 实现 Tx 接口。
func (t *memTx) NextAlertID() (uint64, error) {
	id := t.base.nextAlertID + t.allocAlerts
	t.allocAlerts++
	return id, nil
}

// SetFraudThreshold 实现 Tx 接口。
func (t *memTx) SetFraudThreshold(threshold uint64) error {
	t.threshold = &threshold
	return nil
}

// commit 将缓冲的写入一次性并入基础状态。调用方必须持有写锁。
func (t *memTx) commit() {
	for id, p := range t.participants {
		t.base.participants[id] = p
	}
	for id, profile := range t.profiles {
		t.base.profiles[id] = profile
	}
	for id, s := range t.shipments {
		t.base.shipments[id] = s
	}
	for shipmentID, records := range t.custody {
		t.base.custody[shipmentID] = append(t.base.custody[shipmentID], records...)
	}
	for _, alert := range t.alerts {
		t.base.alerts[alert.ID] = alert
	}
	t.base.nextShipmentID += t.allocShipments
	t.base.nextAlertID += t.allocAlerts
	if t.threshold != nil {
		t.base.threshold = *t.threshold
	}
}

func cloneParticipant(p *Participant) *Participant {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func cloneProfile(profile *AnomalyProfile) *AnomalyProfile {
	if profile == nil {
		return nil
	}
	clone := *profile
	return &clone
}

func cloneShipment(s *Shipment) *Shipment {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

func cloneCustody(record *CustodyRecord) *CustodyRecord {
	if record == nil {
		return nil
	}
	clone := *record
	return &clone
}

func cloneAlert(alert *FraudAlert) *FraudAlert {
	if alert == nil {
		return nil
	}
	clone := *alert
	return &clone
}

// ensure interface compliance at compile time
var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memTx)(nil)
)
