package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	xerrors "github.com/VictoryV20/SecureChain/internal/errors"
	"github.com/VictoryV20/SecureChain/internal/observability/alerting"
	"github.com/VictoryV20/SecureChain/pkg/logger"
)

// EventKind 标识一次已提交状态转换的类型。
type EventKind string

const (
	EventParticipantRegistered EventKind = "participant.registered"
	EventAnomalyProfileUpdated EventKind = "anomaly_profile.updated"
	EventShipmentCreated       EventKind = "shipment.created"
	EventCustodyTransferred    EventKind = "custody.transferred"
	EventShipmentDelivered     EventKind = "shipment.delivered"
	EventFraudReported         EventKind = "fraud.reported"
)

// Event 描述一次已提交的状态转换，供外部事件通道消费。
type Event struct {
	Kind    EventKind `json:"kind"`
	Height  uint64    `json:"height"`
	Payload any       `json:"payload"`
}

// EventSink 接收已提交的转换事件。投递是尽力而为的：存储才是权威记录，
// 事件通道失败不回滚已提交的事务。
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// Engine 是确定性状态机的编排层。所有公开操作在内部互斥锁下串行执行，
// 并在单个存储事务中原子落盘；给定相同的输入历史，引擎产出完全一致的状态。
type Engine struct {
	mu     sync.Mutex
	store  Store
	sink   EventSink
	alerts alerting.Dispatcher
}

// NewEngine 构造账本引擎。sink 与 alerts 允许为 nil。
func NewEngine(store Store, sink EventSink, alerts alerting.Dispatcher) *Engine {
	return &Engine{store: store, sink: sink, alerts: alerts}
}

// RegisterParticipant 注册新的参与方，初始信誉为 InitialReputation。
// 身份重复时返回 ErrAlreadyRegistered。
func (e *Engine) RegisterParticipant(ctx context.Context, height uint64, caller Identity, name, kind string) (*Participant, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "参与方身份不能为空")
	}

	e.mu.Lock()
	var created *Participant
	err := e.store.Update(ctx, func(tx Tx) error {
		// 只有明确的"未注册"才允许继续；存储层的其他读错误必须向上传播，
		// 否则后续的 upsert 会把已有参与方重置回初始状态。
		switch _, err := tx.Participant(caller); {
		case err == nil:
			return ErrAlreadyRegistered
		case !errors.Is(err, ErrParticipantNotFound):
			return err
		}
		created = &Participant{
			ID:           caller,
			Name:         name,
			Kind:         kind,
			Reputation:   InitialReputation,
			Active:       true,
			RegisteredAt: height,
		}
		return tx.PutParticipant(created)
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("参与方注册成功",
		slog.String("participant", string(caller)),
		slog.String("kind", kind),
		slog.Uint64("height", height),
	)
	e.emit(ctx, Event{Kind: EventParticipantRegistered, Height: height, Payload: created})
	return created, nil
}

// SetAnomalyProfile 写入外部聚合的异常画像。计数如何产生不在本核心范围内，
// 引擎只负责落盘并在风险计算时读取。身份未注册时返回 ErrParticipantNotFound。
func (e *Engine) SetAnomalyProfile(ctx context.Context, height uint64, id Identity, profile AnomalyProfile) (*AnomalyProfile, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	var stored *AnomalyProfile
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Participant(id); err != nil {
			return err
		}
		profile.ID = id
		profile.LastAnomalyAt = height
		stored = &profile
		return tx.PutAnomalyProfile(stored)
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.emit(ctx, Event{Kind: EventAnomalyProfileUpdated, Height: height, Payload: stored})
	return cloneProfile(stored), nil
}

// CreateShipment 建档新货运单。调用方必须已注册且可信，目的方必须已注册；
// 风险分达到阈值时拒绝准入。成功时分配下一个编号、写入创世监管记录，
// 并累加调用方的出货计数。
func (e *Engine) CreateShipment(ctx context.Context, height uint64, caller, destination Identity, product Digest, declaredValue uint64) (*Shipment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	var created *Shipment
	err := e.store.Update(ctx, func(tx Tx) error {
		origin, err := tx.Participant(caller)
		if err != nil {
			return ErrUnauthorized
		}
		if !origin.Trustworthy() {
			return ErrSuspended
		}
		// 目的方必须存在，否则货运单会悬挂未注册引用。
		if _, err := tx.Participant(destination); err != nil {
			return err
		}

		profile, err := tx.AnomalyProfile(caller)
		if err != nil {
			return err
		}
		risk := RiskScore(origin, profile, declaredValue)
		threshold, err := tx.FraudThreshold()
		if err != nil {
			return err
		}
		if risk >= threshold {
			return ErrFraudDetected
		}

		id, err := tx.NextShipmentID()
		if err != nil {
			return err
		}
		created = &Shipment{
			ID:            id,
			Origin:        caller,
			Holder:        caller,
			Destination:   destination,
			Product:       product,
			DeclaredValue: declaredValue,
			Status:        StatusCreated,
			RiskScore:     risk,
			Flagged:       risk >= FlagRiskFloor,
			CreatedAt:     height,
			UpdatedAt:     height,
		}
		if err := tx.PutShipment(created); err != nil {
			return err
		}
		if err := tx.AppendCustody(&CustodyRecord{
			ShipmentID: id,
			Sequence:   0,
			Holder:     caller,
			Height:     height,
			Location:   product,
			Verified:   true,
		}); err != nil {
			return err
		}

		origin.TotalShipments++
		return tx.PutParticipant(origin)
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("货运单建档成功",
		slog.Uint64("shipment", created.ID),
		slog.String("origin", string(caller)),
		slog.String("destination", string(destination)),
		slog.Uint64("risk", created.RiskScore),
		slog.Bool("flagged", created.Flagged),
		slog.Uint64("height", height),
	)
	e.emit(ctx, Event{Kind: EventShipmentCreated, Height: height, Payload: created})
	return created, nil
}

// TransferCustody 将货运单移交给新的持有方，并追加下一序号的监管记录。
// 调用方必须是当前持有方，新持有方必须可信，被标记的货运单拒绝移交。
func (e *Engine) TransferCustody(ctx context.Context, height uint64, caller Identity, shipmentID uint64, newHolder Identity, location Digest) (*Shipment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	var updated *Shipment
	err := e.store.Update(ctx, func(tx Tx) error {
		shipment, err := tx.Shipment(shipmentID)
		if err != nil {
			return err
		}
		if shipment.Holder != caller {
			return ErrUnauthorized
		}
		holder, err := tx.Participant(newHolder)
		if err != nil || !holder.Trustworthy() {
			return ErrSuspended
		}
		if shipment.Frozen() {
			return ErrFraudDetected
		}
		// 已交付是终态，不存在回到在途的转换。
		if shipment.Status != StatusCreated && shipment.Status != StatusInTransit {
			return ErrUnauthorized
		}

		chain, err := tx.CustodyChain(shipmentID)
		if err != nil {
			return err
		}
		shipment.Holder = newHolder
		shipment.Status = StatusInTransit
		shipment.UpdatedAt = height
		if err := tx.PutShipment(shipment); err != nil {
			return err
		}
		if err := tx.AppendCustody(&CustodyRecord{
			ShipmentID: shipmentID,
			Sequence:   uint64(len(chain)),
			Holder:     newHolder,
			Height:     height,
			Location:   location,
			Verified:   false,
		}); err != nil {
			return err
		}
		updated = shipment
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("监管移交成功",
		slog.Uint64("shipment", shipmentID),
		slog.String("from", string(caller)),
		slog.String("to", string(newHolder)),
		slog.Uint64("height", height),
	)
	e.emit(ctx, Event{Kind: EventCustodyTransferred, Height: height, Payload: updated})
	return updated, nil
}

// CompleteDelivery 由目的方确认签收，状态置为已交付，并对起运方与目的方
// 分别施加 +5 / +3 的信誉奖励（各自收敛到上限）。货运单引用的参与方缺失
// 属于致命不一致，直接向上传播 NotFound 而不是静默跳过。
func (e *Engine) CompleteDelivery(ctx context.Context, height uint64, caller Identity, shipmentID uint64, verification Digest) (*Shipment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	var updated *Shipment
	err := e.store.Update(ctx, func(tx Tx) error {
		shipment, err := tx.Shipment(shipmentID)
		if err != nil {
			return err
		}
		if shipment.Destination != caller {
			return ErrUnauthorized
		}
		if shipment.Frozen() {
			return ErrFraudDetected
		}
		// 签收只发生一次；重复签收会反复发放信誉奖励。
		if shipment.Status == StatusDelivered {
			return ErrUnauthorized
		}

		shipment.Status = StatusDelivered
		shipment.UpdatedAt = height
		if err := tx.PutShipment(shipment); err != nil {
			return err
		}
		if _, err := applyReputationDelta(tx, shipment.Origin, DeliveryOriginReward); err != nil {
			return err
		}
		if _, err := applyReputationDelta(tx, caller, DeliveryDestinationReward); err != nil {
			return err
		}
		updated = shipment
		return nil
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("货运单签收成功",
		slog.Uint64("shipment", shipmentID),
		slog.String("destination", string(caller)),
		slog.String("verification", verification.Hex()),
		slog.Uint64("height", height),
	)
	e.emit(ctx, Event{Kind: EventShipmentDelivered, Height: height, Payload: updated})
	return updated, nil
}

// ReportFraud 记录一条欺诈告警并标记目标货运单。任何已注册参与方都可举报；
// 这是货运单准入之后唯一的标记路径，同时累加当前持有方的事故计数。
func (e *Engine) ReportFraud(ctx context.Context, height uint64, caller Identity, shipmentID uint64, kind string, severity AlertSeverity, description string) (*FraudAlert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !IsValidAlertSeverity(severity) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的告警严重程度")
	}

	e.mu.Lock()
	var created *FraudAlert
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Participant(caller); err != nil {
			return ErrUnauthorized
		}
		shipment, err := tx.Shipment(shipmentID)
		if err != nil {
			return err
		}

		id, err := tx.NextAlertID()
		if err != nil {
			return err
		}
		created = &FraudAlert{
			ID:          id,
			ShipmentID:  shipmentID,
			Reporter:    caller,
			Kind:        kind,
			Severity:    severity,
			Description: description,
			Height:      height,
		}
		if err := tx.AppendAlert(created); err != nil {
			return err
		}

		shipment.Flagged = true
		shipment.Status = StatusFlagged
		shipment.UpdatedAt = height
		if err := tx.PutShipment(shipment); err != nil {
			return err
		}

		holder, err := tx.Participant(shipment.Holder)
		if err != nil {
			return err
		}
		holder.FlaggedIncidents++
		return tx.PutParticipant(holder)
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("欺诈告警入档",
		slog.Uint64("alert", created.ID),
		slog.Uint64("shipment", shipmentID),
		slog.String("reporter", string(caller)),
		slog.String("severity", string(severity)),
		slog.Uint64("height", height),
	)
	e.emit(ctx, Event{Kind: EventFraudReported, Height: height, Payload: created})
	e.notify(ctx, created)
	return created, nil
}

// SetFraudThreshold 更新准入风险阈值。该入口为未来的治理操作预留，
// 本核心的公开流程不会触达；阈值必须为正。
func (e *Engine) SetFraudThreshold(ctx context.Context, threshold uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if threshold == 0 {
		return ErrInvalidThreshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.Update(ctx, func(tx Tx) error {
		return tx.SetFraudThreshold(threshold)
	})
}

// Participant 返回参与方的当前投影。
func (e *Engine) Participant(ctx context.Context, id Identity) (*Participant, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var result *Participant
	err := e.store.View(ctx, func(tx ReadTx) error {
		p, err := tx.Participant(id)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	return result, err
}

// Shipment 返回货运单的当前投影。
func (e *Engine) Shipment(ctx context.Context, id uint64) (*Shipment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var result *Shipment
	err := e.store.View(ctx, func(tx ReadTx) error {
		s, err := tx.Shipment(id)
		if err != nil {
			return err
		}
		result = s
		return nil
	})
	return result, err
}

// CustodyChain 返回货运单的监管链，按序号升序。
func (e *Engine) CustodyChain(ctx context.Context, shipmentID uint64) ([]*CustodyRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var chain []*CustodyRecord
	err := e.store.View(ctx, func(tx ReadTx) error {
		records, err := tx.CustodyChain(shipmentID)
		if err != nil {
			return err
		}
		chain = records
		return nil
	})
	return chain, err
}

// Alert 返回欺诈告警的当前投影。
func (e *Engine) Alert(ctx context.Context, id uint64) (*FraudAlert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var result *FraudAlert
	err := e.store.View(ctx, func(tx ReadTx) error {
		alert, err := tx.Alert(id)
		if err != nil {
			return err
		}
		result = alert
		return nil
	})
	return result, err
}

// AlertsByShipment 返回指定货运单的全部告警。
func (e *Engine) AlertsByShipment(ctx context.Context, shipmentID uint64) ([]*FraudAlert, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var alerts []*FraudAlert
	err := e.store.View(ctx, func(tx ReadTx) error {
		results, err := tx.AlertsByShipment(shipmentID)
		if err != nil {
			return err
		}
		alerts = results
		return nil
	})
	return alerts, err
}

// SimulateRisk 计算假想货运单的风险分，只读不落盘。身份未注册时沿用
// 风险模型的兜底值而不报错。
func (e *Engine) SimulateRisk(ctx context.Context, id Identity, declaredValue uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	risk := UnknownParticipantRisk
	err := e.store.View(ctx, func(tx ReadTx) error {
		p, err := tx.Participant(id)
		if err != nil {
			return nil
		}
		profile, err := tx.AnomalyProfile(id)
		if err != nil {
			return err
		}
		risk = RiskScore(p, profile, declaredValue)
		return nil
	})
	return risk, err
}

// LastHeight 返回账本中已记录的最大高度，空账本返回 0。
func (e *Engine) LastHeight(ctx context.Context) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var height uint64
	err := e.store.View(ctx, func(tx ReadTx) error {
		h, err := tx.LastHeight()
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

// FraudThreshold 返回当前的准入风险阈值。
func (e *Engine) FraudThreshold(ctx context.Context) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var threshold uint64
	err := e.store.View(ctx, func(tx ReadTx) error {
		t, err := tx.FraudThreshold()
		if err != nil {
			return err
		}
		threshold = t
		return nil
	})
	return threshold, err
}

// Close 释放存储资源。
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// applyReputationDelta 对参与方施加带符号信誉增量并收敛到边界，
// 返回新分值。参与方缺失时传播 ErrParticipantNotFound。
func applyReputationDelta(tx Tx, id Identity, delta int) (int, error) {
	p, err := tx.Participant(id)
	if err != nil {
		return 0, err
	}
	p.Reputation = applyDelta(p.Reputation, delta)
	if err := tx.PutParticipant(p); err != nil {
		return 0, err
	}
	return p.Reputation, nil
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "账本引擎未初始化")
	}
	return nil
}

// emit 必须在互斥锁释放之后调用，慢速通道不得阻塞其他引擎操作。
func (e *Engine) emit(ctx context.Context, event Event) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(ctx, event)
}

func (e *Engine) notify(ctx context.Context, alert *FraudAlert) {
	if e.alerts == nil || alert == nil {
		return
	}
	event := alerting.Event{
		Code:       CodeFraudDetected,
		Message:    alert.Description,
		Severity:   xerrors.SeverityWarning,
		ShipmentID: alert.ShipmentID,
		AlertID:    alert.ID,
		Reporter:   string(alert.Reporter),
		Metadata: map[string]string{
			"kind":     alert.Kind,
			"severity": string(alert.Severity),
		},
	}
	if alert.Severity == AlertSeverityHigh || alert.Severity == AlertSeverityCritical {
		event.Severity = xerrors.SeverityCritical
	}
	if err := e.alerts.Notify(ctx, event); err != nil {
		logger.L().Error("欺诈告警通知失败", slog.Any("error", err), slog.Uint64("alert", alert.ID))
	}
}
