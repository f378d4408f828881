package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tradeplane/internal/storedb"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("ledger: not found")

// ErrSequenceConflict is returned by ApplyTransition when the write lost
// the CAS race — the caller should re-read and decide whether to retry.
var ErrSequenceConflict = errors.New("ledger: status_sequence conflict")

// Repository persists orders, fills, and position snapshots.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open ledger database connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindByClientOrderID returns the order row, or ErrNotFound.
func (r *Repository) FindByClientOrderID(clientOrderID string) (*Order, error) {
	row := r.db.QueryRow(`
		SELECT client_order_id, broker_order_id, symbol, side, qty, order_type,
		       limit_price, time_in_force, status, filled_qty, avg_fill_price,
		       strategy_id, trade_date, created_at, updated_at, status_source, status_sequence
		FROM orders WHERE client_order_id = ?`, clientOrderID)
	return scanOrder(row)
}

// Insert creates the initial row for a freshly computed client_order_id.
// Callers must have already checked FindByClientOrderID returned
// ErrNotFound — insert is not itself idempotent against races between
// two goroutines computing the same id concurrently, so the unique
// primary key constraint is the final backstop.
func (r *Repository) Insert(o *Order) error {
	now := time.Now().Unix()
	o.CreatedAt = time.Unix(now, 0)
	o.UpdatedAt = o.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO orders
		(client_order_id, broker_order_id, symbol, side, qty, order_type, limit_price,
		 time_in_force, status, filled_qty, avg_fill_price, strategy_id, trade_date,
		 created_at, updated_at, status_source, status_sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ClientOrderID, o.BrokerOrderID, o.Symbol, o.Side, o.Qty, o.OrderType,
		o.LimitPrice, o.TimeInForce, string(o.Status), o.FilledQty, o.AvgFillPrice,
		o.StrategyID, o.TradeDate, now, now, string(o.StatusSource), o.StatusSequence)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Transition is a proposed CAS write: move to newStatus/newFilledQty
// tagged with source, succeeding only if the row's current
// status_sequence still equals expectedSequence.
type Transition struct {
	ClientOrderID  string
	ExpectedSeq    int64
	NewStatus      OrderStatus
	NewFilledQty   int64
	NewAvgFillPx   float64
	NewBrokerOrder *string
	Source         StatusSource
}

// ApplyTransition performs the order state machine's CAS write inside a
// transaction: it re-reads the row, checks expectedSequence and the
// source priority table, and only then commits. Terminal orders reject
// further writes unless the write is a reconciliation correction whose
// source outranks the stored one; an accepted write always takes the
// next status_sequence.
func (r *Repository) ApplyTransition(t Transition) error {
	return storedb.WithTransaction(r.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT status, status_source, status_sequence FROM orders WHERE client_order_id = ?`, t.ClientOrderID)

		var currentStatus, currentSource string
		var currentSeq int64
		if err := row.Scan(&currentStatus, &currentSource, &currentSeq); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if currentSeq != t.ExpectedSeq {
			if !t.Source.Outranks(StatusSource(currentSource)) {
				return ErrSequenceConflict
			}
		}

		if OrderStatus(currentStatus).Terminal() && (t.Source != SourceReconciliation || !t.Source.Outranks(StatusSource(currentSource))) {
			return ErrSequenceConflict
		}

		nextSeq := currentSeq + 1
		now := time.Now().Unix()

		_, err := tx.Exec(`
			UPDATE orders
			SET status = ?, filled_qty = ?, avg_fill_price = ?, broker_order_id = COALESCE(?, broker_order_id),
			    status_source = ?, status_sequence = ?, updated_at = ?
			WHERE client_order_id = ? AND status_sequence = ?`,
			string(t.NewStatus), t.NewFilledQty, t.NewAvgFillPx, t.NewBrokerOrder,
			string(t.Source), nextSeq, now, t.ClientOrderID, currentSeq)
		if err != nil {
			return fmt.Errorf("apply transition: %w", err)
		}
		return nil
	})
}

// AppendFill records a fill and dedupes on (client_order_id, broker_event_id)
// so duplicate webhook deliveries are absorbed without double-counting.
// The returned bool reports whether a new fill was actually inserted,
// so callers that react to a fill (e.g. shrinking a reservation) don't
// repeat that reaction for a redelivered event.
func (r *Repository) AppendFill(clientOrderID, brokerEventID string, qty int64, price float64) (bool, error) {
	var inserted bool
	err := storedb.WithTransaction(r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM webhook_events WHERE client_order_id = ? AND broker_event_id = ?`,
			clientOrderID, brokerEventID).Scan(&exists)
		if err == nil {
			return nil // already processed this event, no-op
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err := tx.Exec(`INSERT INTO webhook_events (client_order_id, broker_event_id, received_at) VALUES (?, ?, ?)`,
			clientOrderID, brokerEventID, time.Now().Unix()); err != nil {
			return err
		}

		if _, err := tx.Exec(`INSERT INTO fills (client_order_id, qty, price, broker_event_id, timestamp) VALUES (?, ?, ?, ?, ?)`,
			clientOrderID, qty, price, brokerEventID, time.Now().Unix()); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// ListBySymbol returns orders for symbol, most recent first, bounded by limit.
func (r *Repository) ListBySymbol(symbol string, limit int) ([]*Order, error) {
	rows, err := r.db.Query(`
		SELECT client_order_id, broker_order_id, symbol, side, qty, order_type,
		       limit_price, time_in_force, status, filled_qty, avg_fill_price,
		       strategy_id, trade_date, created_at, updated_at, status_source, status_sequence
		FROM orders WHERE symbol = ? ORDER BY created_at DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListNonTerminal returns all orders not yet in a terminal state, used by
// reconciliation's missing-from-broker sweep.
func (r *Repository) ListNonTerminal() ([]*Order, error) {
	rows, err := r.db.Query(`
		SELECT client_order_id, broker_order_id, symbol, side, qty, order_type,
		       limit_price, time_in_force, status, filled_qty, avg_fill_price,
		       strategy_id, trade_date, created_at, updated_at, status_source, status_sequence
		FROM orders WHERE status NOT IN ('filled','canceled','rejected','error')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// UpsertPositionSnapshot overwrites the local snapshot with broker truth.
func (r *Repository) UpsertPositionSnapshot(p PositionSnapshot) error {
	_, err := r.db.Exec(`
		INSERT INTO position_snapshots (symbol, qty, avg_entry_price, last_reconciled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET qty = excluded.qty, avg_entry_price = excluded.avg_entry_price,
			last_reconciled_at = excluded.last_reconciled_at`,
		p.Symbol, p.Qty, p.AvgEntryPrice, time.Now().Unix())
	return err
}

// FindPositionSnapshot returns the current snapshot for symbol, or
// ErrNotFound if reconciliation has never reported one.
func (r *Repository) FindPositionSnapshot(symbol string) (*PositionSnapshot, error) {
	var p PositionSnapshot
	var reconciledAt int64
	err := r.db.QueryRow(`SELECT symbol, qty, avg_entry_price, last_reconciled_at FROM position_snapshots WHERE symbol = ?`, symbol).
		Scan(&p.Symbol, &p.Qty, &p.AvgEntryPrice, &reconciledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.LastReconciledAt = time.Unix(reconciledAt, 0)
	return &p, nil
}

// InsertOrphan records a broker order with no matching deterministic id.
func (r *Repository) InsertOrphan(o OrphanOrder) error {
	_, err := r.db.Exec(`
		INSERT INTO orphan_orders (broker_order_id, symbol, discovered_at, note)
		VALUES (?, ?, ?, ?) ON CONFLICT(broker_order_id) DO NOTHING`,
		o.BrokerOrderID, o.Symbol, time.Now().Unix(), o.Note)
	return err
}

// HighWaterMark returns the timestamp past which reconciliation has
// proven the ledger matches broker state, or the zero time if none yet.
func (r *Repository) HighWaterMark() (time.Time, error) {
	var unix int64
	err := r.db.QueryRow(`SELECT reconciled_until FROM high_water_mark WHERE id = 1`).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}

// AdvanceHighWaterMark persists the new reconciliation boundary. It never
// moves backward — callers pass the max of current and new.
func (r *Repository) AdvanceHighWaterMark(t time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO high_water_mark (id, reconciled_until) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET reconciled_until = excluded.reconciled_until`, t.Unix())
	return err
}

type scannableRow interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scannableRow) (*Order, error) {
	var o Order
	var status, source string
	var createdAt, updatedAt int64
	err := row.Scan(&o.ClientOrderID, &o.BrokerOrderID, &o.Symbol, &o.Side, &o.Qty, &o.OrderType,
		&o.LimitPrice, &o.TimeInForce, &status, &o.FilledQty, &o.AvgFillPrice,
		&o.StrategyID, &o.TradeDate, &createdAt, &updatedAt, &source, &o.StatusSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	o.StatusSource = StatusSource(source)
	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
