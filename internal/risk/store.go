// Package risk implements the process-wide risk substrate every submit
// path consults before an order reaches the broker: kill switch, circuit
// breaker, position reservation, quarantine, and the reconciliation gate.
// It is read-through state shared by all three services, backed by
// SQLite instead of a key-value store (spec's "conceptually a
// strongly-consistent per-key store" — see Schema's comment).
package risk

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tradeplane/internal/storedb"
)

// ErrUnreadable signals the store could not answer authoritatively;
// every gate caller must treat this the same as an engaged/tripped read
// — reject, never assume open.
var ErrUnreadable = errors.New("risk: state unreadable")

// CircuitState is one of the breaker's three states.
type CircuitState string

const (
	CircuitOpen        CircuitState = "open"
	CircuitTripped      CircuitState = "tripped"
	CircuitQuietPeriod CircuitState = "quiet_period"
)

// GateState is the reconciliation gate's ternary flag.
type GateState string

const (
	GateClosed     GateState = "closed"
	GateOpen       GateState = "open"
	GateReduceOnly GateState = "reduce_only"
)

// Store wraps a dedicated SQLite database holding all risk state.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open risk-store database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- Kill switch ---

// KillSwitchEngaged reports whether the kill switch blocks new submits.
// Any read failure is treated as engaged (fail closed).
func (s *Store) KillSwitchEngaged() (bool, error) {
	var engaged int
	err := s.db.QueryRow(`SELECT engaged FROM kill_switch WHERE id = 1`).Scan(&engaged)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil // never configured = disengaged by default
	}
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return engaged == 1, nil
}

// SetKillSwitch engages or disengages the switch; disengaging is an
// operator action and should be audit-logged by the caller.
func (s *Store) SetKillSwitch(engaged bool, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO kill_switch (id, engaged, reason, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET engaged = excluded.engaged, reason = excluded.reason, updated_at = excluded.updated_at`,
		boolToInt(engaged), reason, time.Now().Unix())
	return err
}

// --- Circuit breaker ---

// CircuitBreakerState returns the current state, passively resolving
// quiet_period -> open once the stored deadline has passed.
func (s *Store) CircuitBreakerState() (CircuitState, error) {
	var state string
	var deadline sql.NullInt64
	err := s.db.QueryRow(`SELECT state, quiet_deadline FROM circuit_breaker WHERE id = 1`).Scan(&state, &deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return CircuitOpen, nil
	}
	if err != nil {
		return CircuitTripped, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	if CircuitState(state) == CircuitQuietPeriod && deadline.Valid && time.Now().Unix() >= deadline.Int64 {
		if err := s.transitionCircuitBreaker(CircuitQuietPeriod, CircuitOpen, "quiet period elapsed"); err != nil {
			return CircuitTripped, err
		}
		return CircuitOpen, nil
	}

	return CircuitState(state), nil
}

// TripCircuitBreaker moves open -> tripped, recording reason in the
// append-only history.
func (s *Store) TripCircuitBreaker(reason string) error {
	return s.transitionCircuitBreaker(CircuitOpen, CircuitTripped, reason)
}

// ResetCircuitBreaker moves tripped -> quiet_period with a deadline
// quietMinutes in the future; an operator action.
func (s *Store) ResetCircuitBreaker(quietMinutes int) error {
	return storedb.WithTransaction(s.db, func(tx *sql.Tx) error {
		var state string
		if err := tx.QueryRow(`SELECT state FROM circuit_breaker WHERE id = 1`).Scan(&state); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		deadline := time.Now().Add(time.Duration(quietMinutes) * time.Minute).Unix()
		now := time.Now().Unix()
		if _, err := tx.Exec(`
			INSERT INTO circuit_breaker (id, state, quiet_deadline, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET state = excluded.state, quiet_deadline = excluded.quiet_deadline, updated_at = excluded.updated_at`,
			string(CircuitQuietPeriod), deadline, now); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO circuit_breaker_history (from_state, to_state, reason, occurred_at) VALUES (?, ?, ?, ?)`,
			state, string(CircuitQuietPeriod), "operator reset", now)
		return err
	})
}

func (s *Store) transitionCircuitBreaker(from, to CircuitState, reason string) error {
	return storedb.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		_, err := tx.Exec(`
			INSERT INTO circuit_breaker (id, state, trip_reason, quiet_deadline, updated_at) VALUES (1, ?, ?, NULL, ?)
			ON CONFLICT(id) DO UPDATE SET state = excluded.state, trip_reason = excluded.trip_reason, quiet_deadline = excluded.quiet_deadline, updated_at = excluded.updated_at`,
			string(to), reason, now)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO circuit_breaker_history (from_state, to_state, reason, occurred_at) VALUES (?, ?, ?, ?)`,
			string(from), string(to), reason, now)
		return err
	})
}

// --- Position reservation ---

// ReserveAndCheck atomically adds signedDelta to symbol's reservation and
// returns the post-reservation total, rejecting (without committing the
// add) if |currentPosition + new reservation| exceeds limit. A lease
// tagged with clientOrderID is recorded so a TTL sweep can release
// orphaned reservations.
func (s *Store) ReserveAndCheck(symbol, clientOrderID string, signedDelta, currentPosition, limit int64, leaseTTL time.Duration) (int64, error) {
	var result int64
	err := storedb.WithTransaction(s.db, func(tx *sql.Tx) error {
		var reserved int64
		err := tx.QueryRow(`SELECT reserved FROM position_reservations WHERE symbol = ?`, symbol).Scan(&reserved)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		newReserved := reserved + signedDelta
		if abs(currentPosition+newReserved) > limit {
			return fmt.Errorf("reservation would breach position limit for %s: |%d + %d| > %d", symbol, currentPosition, newReserved, limit)
		}

		now := time.Now().Unix()
		if _, err := tx.Exec(`
			INSERT INTO position_reservations (symbol, reserved, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET reserved = excluded.reserved, updated_at = excluded.updated_at`,
			symbol, newReserved, now); err != nil {
			return err
		}

		if _, err := tx.Exec(`INSERT INTO reservation_leases (client_order_id, symbol, qty, expires_at) VALUES (?, ?, ?, ?)`,
			clientOrderID, symbol, signedDelta, time.Now().Add(leaseTTL).Unix()); err != nil {
			return err
		}

		result = newReserved
		return nil
	})
	return result, err
}

// ReleaseReservation subtracts the lease's recorded qty from symbol's
// reservation on order terminalization, keeping reserved+filled==qty.
func (s *Store) ReleaseReservation(clientOrderID string) error {
	return storedb.WithTransaction(s.db, func(tx *sql.Tx) error {
		var symbol string
		var qty int64
		err := tx.QueryRow(`SELECT symbol, qty FROM reservation_leases WHERE client_order_id = ?`, clientOrderID).Scan(&symbol, &qty)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // already released or never leased
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`UPDATE position_reservations SET reserved = reserved - ?, updated_at = ? WHERE symbol = ?`,
			qty, time.Now().Unix(), symbol); err != nil {
			return err
		}
		_, err = tx.Exec(`DELETE FROM reservation_leases WHERE client_order_id = ?`, clientOrderID)
		return err
	})
}

// ReduceReservation shrinks a lease's held reservation by filledDelta
// (the unsigned quantity newly filled since the last webhook), keeping
// reserved+filled == original_qty as fills arrive incrementally instead
// of only releasing the whole reservation at terminalization. The lease
// row is kept, not deleted, so a later terminal release only subtracts
// whatever quantity remains unfilled.
func (s *Store) ReduceReservation(clientOrderID string, filledDelta int64) error {
	if filledDelta <= 0 {
		return nil
	}
	return storedb.WithTransaction(s.db, func(tx *sql.Tx) error {
		var symbol string
		var qty int64
		err := tx.QueryRow(`SELECT symbol, qty FROM reservation_leases WHERE client_order_id = ?`, clientOrderID).Scan(&symbol, &qty)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // already released or never leased
		}
		if err != nil {
			return err
		}

		sign := int64(1)
		if qty < 0 {
			sign = -1
		}
		delta := sign * filledDelta
		if abs(delta) > abs(qty) {
			delta = qty // never overshoot past zero on an overfill
		}

		if _, err := tx.Exec(`UPDATE position_reservations SET reserved = reserved - ?, updated_at = ? WHERE symbol = ?`,
			delta, time.Now().Unix(), symbol); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE reservation_leases SET qty = ? WHERE client_order_id = ?`, qty-delta, clientOrderID)
		return err
	})
}

// SweepExpiredLeases releases reservations whose lease has outlived its
// TTL, bounding leakage from orders the gateway never hears a terminal
// status for.
func (s *Store) SweepExpiredLeases() (int, error) {
	rows, err := s.db.Query(`SELECT client_order_id FROM reservation_leases WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.ReleaseReservation(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ReservedQty returns the current reservation total for symbol.
func (s *Store) ReservedQty(symbol string) (int64, error) {
	var reserved int64
	err := s.db.QueryRow(`SELECT reserved FROM position_reservations WHERE symbol = ?`, symbol).Scan(&reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return reserved, err
}

// --- Quarantine ---

// IsQuarantined reports whether symbol is refused for increasing orders.
func (s *Store) IsQuarantined(symbol string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM quarantine WHERE symbol = ?`, symbol).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return true, nil
}

// Quarantine sets a symbol as unaligned with the broker, set by
// reconciliation when an order's fate cannot be proven.
func (s *Store) Quarantine(symbol, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO quarantine (symbol, reason, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET reason = excluded.reason, updated_at = excluded.updated_at`,
		symbol, reason, time.Now().Unix())
	return err
}

// ClearQuarantine lifts the flag, e.g. once reconciliation re-proves
// alignment.
func (s *Store) ClearQuarantine(symbol string) error {
	_, err := s.db.Exec(`DELETE FROM quarantine WHERE symbol = ?`, symbol)
	return err
}

// --- Reconciliation gate ---

// ReconciliationGateState returns the current gate state and high-water
// mark; any read failure is treated as closed (fail closed).
func (s *Store) ReconciliationGateState() (GateState, time.Time, error) {
	var state string
	var hwm int64
	err := s.db.QueryRow(`SELECT state, high_water_mark FROM reconciliation_gate WHERE id = 1`).Scan(&state, &hwm)
	if errors.Is(err, sql.ErrNoRows) {
		return GateClosed, time.Time{}, nil
	}
	if err != nil {
		return GateClosed, time.Time{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return GateState(state), time.Unix(hwm, 0).UTC(), nil
}

// SetReconciliationGate updates the gate state, e.g. to open once startup
// reconciliation first succeeds, or reduce_only under partial confidence.
func (s *Store) SetReconciliationGate(state GateState, highWaterMark time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO reconciliation_gate (id, state, high_water_mark, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, high_water_mark = excluded.high_water_mark, updated_at = excluded.updated_at`,
		string(state), highWaterMark.Unix(), time.Now().Unix())
	return err
}

// --- Price cache ---

// CachePrice records symbol's last-known price with a TTL enforced at
// read time (300s per spec); the orchestrator's sizing rule reads it
// back through PriceIfFresh.
func (s *Store) CachePrice(symbol string, price, bid, ask float64) error {
	_, err := s.db.Exec(`
		INSERT INTO price_cache (symbol, price, bid, ask, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET price = excluded.price, bid = excluded.bid, ask = excluded.ask, updated_at = excluded.updated_at`,
		symbol, price, bid, ask, time.Now().Unix())
	return err
}

// PriceIfFresh returns the cached price if younger than ttl.
func (s *Store) PriceIfFresh(symbol string, ttl time.Duration) (float64, bool, error) {
	var price float64
	var updatedAt int64
	err := s.db.QueryRow(`SELECT price, updated_at FROM price_cache WHERE symbol = ?`, symbol).Scan(&price, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if time.Since(time.Unix(updatedAt, 0)) > ttl {
		return 0, false, nil
	}
	return price, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
