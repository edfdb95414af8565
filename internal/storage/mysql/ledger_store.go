package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "github.com/VictoryV20/SecureChain/internal/errors"
	"github.com/VictoryV20/SecureChain/internal/ledger"
)

// 计数器表中各个计数器的名称。
const (
	counterShipmentID     = "shipment_id"
	counterAlertID        = "alert_id"
	counterFraudThreshold = "fraud_threshold"
)

// LedgerStore 使用 MySQL 持久化账本状态，实现 ledger.Store。
type LedgerStore struct {
	db *sql.DB
}

var _ ledger.Store = (*LedgerStore)(nil)

// Open 建立连接池并执行内嵌迁移。
func Open(ctx context.Context, cfg Config) (*LedgerStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开 MySQL 账本存储失败")
	}

	store := &LedgerStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "执行账本迁移失败")
	}
	return store, nil
}

// View 在只读事务中执行回调。
func (s *LedgerStore) View(ctx context.Context, fn func(ledger.ReadTx) error) error {
	if fn == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "事务回调不能为空")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启只读事务失败")
	}
	if err := fn(&ledgerTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交只读事务失败")
	}
	return nil
}

// Update 在读写事务中执行回调，回调失败时整体回滚。
func (s *LedgerStore) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	if fn == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "事务回调不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启读写事务失败")
	}
	if err := fn(&ledgerTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交读写事务失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *LedgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ledgerTx 将 ledger.Tx 映射到一个 sql.Tx 上。
type ledgerTx struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ ledger.Tx = (*ledgerTx)(nil)

func (t *ledgerTx) Participant(id ledger.Identity) (*ledger.Participant, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT id, name, kind, reputation, total_shipments, flagged_incidents, active, registered_at
        FROM participants WHERE id = ?`, string(id))

	var p ledger.Participant
	if err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.Reputation, &p.TotalShipments, &p.FlaggedIncidents, &p.Active, &p.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrParticipantNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询参与方失败")
	}
	return &p, nil
}

func (t *ledgerTx) AnomalyProfile(id ledger.Identity) (*ledger.AnomalyProfile, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT participant_id, unusual_routes, time_deviations, value_discrepancies, custody_gaps, last_anomaly_at
        FROM anomaly_profiles WHERE participant_id = ?`, string(id))

	var profile ledger.AnomalyProfile
	if err := row.Scan(&profile.ID, &profile.UnusualRoutes, &profile.TimeDeviations, &profile.ValueDiscrepancies, &profile.CustodyGaps, &profile.LastAnomalyAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 缺失画像等价于全零。
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询异常画像失败")
	}
	return &profile, nil
}

func (t *ledgerTx) Shipment(id uint64) (*ledger.Shipment, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT id, origin, holder, destination, product, declared_value, status, risk_score, flagged, created_at, updated_at
        FROM shipments WHERE id = ?`, id)

	var (
		s       ledger.Shipment
		product []byte
	)
	if err := row.Scan(&s.ID, &s.Origin, &s.Holder, &s.Destination, &product, &s.DeclaredValue, &s.Status, &s.RiskScore, &s.Flagged, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrShipmentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询货运单失败")
	}
	s.Product = common.BytesToHash(product)
	return &s, nil
}

func (t *ledgerTx) CustodyChain(shipmentID uint64) ([]*ledger.CustodyRecord, error) {
	if _, err := t.Shipment(shipmentID); err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(t.ctx, `SELECT shipment_id, sequence, holder, height, location, verified
        FROM custody_records WHERE shipment_id = ? ORDER BY sequence ASC`, shipmentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询监管链失败")
	}
	defer rows.Close()

	var chain []*ledger.CustodyRecord
	for rows.Next() {
		var (
			record   ledger.CustodyRecord
			location []byte
		)
		if err := rows.Scan(&record.ShipmentID, &record.Sequence, &record.Holder, &record.Height, &location, &record.Verified); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析监管记录失败")
		}
		record.Location = common.BytesToHash(location)
		chain = append(chain, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历监管链失败")
	}
	return chain, nil
}

func (t *ledgerTx) Alert(id uint64) (*ledger.FraudAlert, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT id, shipment_id, reporter, kind, severity, description, height, resolved
        FROM fraud_alerts WHERE id = ?`, id)

	var alert ledger.FraudAlert
	if err := row.Scan(&alert.ID, &alert.ShipmentID, &alert.Reporter, &alert.Kind, &alert.Severity, &alert.Description, &alert.Height, &alert.Resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAlertNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询欺诈告警失败")
	}
	return &alert, nil
}

func (t *ledgerTx) AlertsByShipment(shipmentID uint64) ([]*ledger.FraudAlert, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT id, shipment_id, reporter, kind, severity, description, height, resolved
        FROM fraud_alerts WHERE shipment_id = ? ORDER BY id ASC`, shipmentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询货运告警失败")
	}
	defer rows.Close()

	var alerts []*ledger.FraudAlert
	for rows.Next() {
		var alert ledger.FraudAlert
		if err := rows.Scan(&alert.ID, &alert.ShipmentID, &alert.Reporter, &alert.Kind, &alert.Severity, &alert.Description, &alert.Height, &alert.Resolved); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析欺诈告警失败")
		}
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历欺诈告警失败")
	}
	return alerts, nil
}

func (t *ledgerTx) FraudThreshold() (uint64, error) {
	return t.counterValue(counterFraudThreshold)
}

// LastHeight 取各表已记录高度的最大值，供重启后延续高度序列。
func (t *ledgerTx) LastHeight() (uint64, error) {
	var height uint64
	err := t.tx.QueryRowContext(t.ctx, `SELECT GREATEST(
        COALESCE((SELECT MAX(registered_at) FROM participants), 0),
        COALESCE((SELECT MAX(last_anomaly_at) FROM anomaly_profiles), 0),
        COALESCE((SELECT MAX(updated_at) FROM shipments), 0),
        COALESCE((SELECT MAX(height) FROM custody_records), 0),
        COALESCE((SELECT MAX(height) FROM fraud_alerts), 0))`).Scan(&height)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询账本最大高度失败")
	}
	return height, nil
}

func (t *ledgerTx) PutParticipant(p *ledger.Participant) error {
	if p == nil || p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "参与方记录不完整")
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO participants
        (id, name, kind, reputation, total_shipments, flagged_incidents, active, registered_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        name = VALUES(name), kind = VALUES(kind), reputation = VALUES(reputation),
        total_shipments = VALUES(total_shipments), flagged_incidents = VALUES(flagged_incidents),
        active = VALUES(active), registered_at = VALUES(registered_at)`,
		string(p.ID), p.Name, p.Kind, p.Reputation, p.TotalShipments, p.FlaggedIncidents, p.Active, p.RegisteredAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入参与方失败")
	}
	return nil
}

func (t *ledgerTx) PutAnomalyProfile(profile *ledger.AnomalyProfile) error {
	if profile == nil || profile.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "异常画像记录不完整")
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO anomaly_profiles
        (participant_id, unusual_routes, time_deviations, value_discrepancies, custody_gaps, last_anomaly_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        unusual_routes = VALUES(unusual_routes), time_deviations = VALUES(time_deviations),
        value_discrepancies = VALUES(value_discrepancies), custody_gaps = VALUES(custody_gaps),
        last_anomaly_at = VALUES(last_anomaly_at)`,
		string(profile.ID), profile.UnusualRoutes, profile.TimeDeviations, profile.ValueDiscrepancies, profile.CustodyGaps, profile.LastAnomalyAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入异常画像失败")
	}
	return nil
}

func (t *ledgerTx) PutShipment(s *ledger.Shipment) error {
	if s == nil || s.ID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "货运单记录不完整")
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO shipments
        (id, origin, holder, destination, product, declared_value, status, risk_score, flagged, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        holder = VALUES(holder), status = VALUES(status), risk_score = VALUES(risk_score),
        flagged = VALUES(flagged), updated_at = VALUES(updated_at)`,
		s.ID, string(s.Origin), string(s.Holder), string(s.Destination), s.Product.Bytes(),
		s.DeclaredValue, string(s.Status), s.RiskScore, s.Flagged, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入货运单失败")
	}
	return nil
}

func (t *ledgerTx) AppendCustody(record *ledger.CustodyRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "监管记录不能为空")
	}
	// 主键 (shipment_id, sequence) 保证记录只写，任何重复序号都被拒绝。
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO custody_records
        (shipment_id, sequence, holder, height, location, verified)
        VALUES (?, ?, ?, ?, ?, ?)`,
		record.ShipmentID, record.Sequence, string(record.Holder), record.Height, record.Location.Bytes(), record.Verified)
	if err != nil {
		if isDuplicateEntry(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "监管记录序号冲突")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加监管记录失败")
	}
	return nil
}

func (t *ledgerTx) AppendAlert(alert *ledger.FraudAlert) error {
	if alert == nil || alert.ID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "告警记录不完整")
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO fraud_alerts
        (id, shipment_id, reporter, kind, severity, description, height, resolved)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.ShipmentID, string(alert.Reporter), alert.Kind, string(alert.Severity), alert.Description, alert.Height, alert.Resolved)
	if err != nil {
		if isDuplicateEntry(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "告警编号冲突")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加欺诈告警失败")
	}
	return nil
}

func (t *ledgerTx) NextShipmentID() (uint64, error) {
	return t.nextCounter(counterShipmentID)
}

func (t *ledgerTx) NextAlertID() (uint64, error) {
	return t.nextCounter(counterAlertID)
}

func (t *ledgerTx) SetFraudThreshold(threshold uint64) error {
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE ledger_counters SET value = ? WHERE name = ?`, threshold, counterFraudThreshold); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新欺诈阈值失败")
	}
	return nil
}

// nextCounter 以行锁方式分配下一个单调编号。
func (t *ledgerTx) nextCounter(name string) (uint64, error) {
	var value uint64
	row := t.tx.QueryRowContext(t.ctx, `SELECT value FROM ledger_counters WHERE name = ? FOR UPDATE`, name)
	if err := row.Scan(&value); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取计数器失败")
	}
	value++
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE ledger_counters SET value = ? WHERE name = ?`, value, name); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "推进计数器失败")
	}
	return value, nil
}

func (t *ledgerTx) counterValue(name string) (uint64, error) {
	var value uint64
	row := t.tx.QueryRowContext(t.ctx, `SELECT value FROM ledger_counters WHERE name = ?`, name)
	if err := row.Scan(&value); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取计数器失败")
	}
	return value, nil
}

// isDuplicateEntry 判断错误是否为 MySQL 1062 主键冲突。
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
