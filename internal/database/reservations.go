package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/mattn/go-sqlite3"
)

const reservationColumns = `id, requester_id, listing_id, start_at, end_at, guest_count, total_price,
	state, payment_state, created_at, updated_at, paid_at, cancelled_at, version`

// Три случая пересечения: существующая бронь содержит начало новой,
// содержит её конец, или новая целиком покрывает существующую.
const overlapCondition = `listing_id = ? AND state != 'cancelled' AND (
		(start_at <= ? AND end_at > ?)
		OR (start_at < ? AND end_at >= ?)
		OR (start_at >= ? AND end_at <= ?)
	)`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertReservation сохраняет бронь и занимает её ночи в одной транзакции.
// Пересечение внутри транзакции или конфликт по ночам даёт *domain.UnavailableError.
func (db *DB) InsertReservation(ctx context.Context, r *models.Reservation) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	if r.State == "" {
		r.State = models.StatePending
	}
	if r.PaymentState == "" {
		r.PaymentState = models.PaymentUnpaid
	}
	r.Version = 1

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	conflicts, err := findOverlapping(ctx, tx, r.ListingID, r.Start, r.End)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return unavailable(r.ListingID, conflicts)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequesterID, r.ListingID, toMillis(r.Start), toMillis(r.End), r.GuestCount, r.TotalPrice,
		string(r.State), string(r.PaymentState), toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
		nullMillis(r.PaidAt), nullMillis(r.CancelledAt), r.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reservation %s already exists: %w", r.ID, domain.ErrConflict)
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	for _, night := range r.Stay().Nights() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reservation_nights (listing_id, night, reservation_id) VALUES (?, ?, ?)`,
			r.ListingID, night, r.ID)
		if err == nil {
			continue
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("claim night %s: %w", night, err)
		}
		conflicts, qerr := findOverlapping(ctx, tx, r.ListingID, r.Start, r.End)
		if qerr != nil {
			db.logger.Warn().Err(qerr).Str("listing_id", r.ListingID).Msg("Failed to load conflicts for night collision")
		}
		return unavailable(r.ListingID, conflicts)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

// FindOverlapping возвращает неотменённые брони листинга, пересекающиеся с [start, end).
func (db *DB) FindOverlapping(ctx context.Context, listingID string, start, end time.Time) ([]*models.Reservation, error) {
	return findOverlapping(ctx, db.DB, listingID, start, end)
}

func findOverlapping(ctx context.Context, q queryer, listingID string, start, end time.Time) ([]*models.Reservation, error) {
	s, e := toMillis(start), toMillis(end)
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE `+overlapCondition+` ORDER BY start_at`,
		listingID, s, s, e, e, s, e)
	if err != nil {
		return nil, fmt.Errorf("query overlapping: %w", err)
	}
	return scanReservations(rows)
}

func (db *DB) FindByState(ctx context.Context, states ...models.State) ([]*models.Reservation, error) {
	if len(states) == 0 {
		return nil, nil
	}
	in, args := stateArgs(states)
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE state IN (`+in+`) ORDER BY end_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query by state: %w", err)
	}
	return scanReservations(rows)
}

// FindDue returns reservations in one of states whose stay ended at or before now.
func (db *DB) FindDue(ctx context.Context, states []models.State, now time.Time) ([]*models.Reservation, error) {
	if len(states) == 0 {
		return nil, nil
	}
	in, args := stateArgs(states)
	args = append(args, toMillis(now))
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE state IN (`+in+`) AND end_at <= ? ORDER BY end_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query due: %w", err)
	}
	return scanReservations(rows)
}

func (db *DB) FindByRequester(ctx context.Context, requesterID string) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE requester_id = ? ORDER BY created_at DESC, id DESC`,
		requesterID)
	if err != nil {
		return nil, fmt.Errorf("query by requester: %w", err)
	}
	return scanReservations(rows)
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

func getReservation(ctx context.Context, q queryer, id string) (*models.Reservation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateState применяет переход только если строка всё ещё в состоянии t.From
// (и t.FromPayment, если задан). Ноль затронутых строк даёт ErrConflict.
// Отмена освобождает ночи в той же транзакции.
func (db *DB) UpdateState(ctx context.Context, id string, t models.Transition) (*models.Reservation, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	query := `
		UPDATE reservations
		SET state = ?,
			payment_state = COALESCE(?, payment_state),
			paid_at = COALESCE(paid_at, ?),
			cancelled_at = COALESCE(?, cancelled_at),
			updated_at = ?,
			version = version + 1
		WHERE id = ? AND state = ?`
	var payment any
	if t.Payment != nil {
		payment = string(*t.Payment)
	}
	args := []any{string(t.To), payment, nullMillis(t.PaidAt), nullMillis(t.CancelledAt), toMillis(at), id, string(t.From)}
	if t.FromPayment != nil {
		query += ` AND payment_state = ?`
		args = append(args, string(*t.FromPayment))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update reservation state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, gerr := getReservation(ctx, tx, id); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("reservation %s is no longer %s: %w", id, t.From, domain.ErrConflict)
	}

	if t.To == models.StateCancelled {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reservation_nights WHERE reservation_id = ?`, id); err != nil {
			return nil, fmt.Errorf("release nights: %w", err)
		}
	}

	updated, err := getReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                    models.Reservation
		state, payment       string
		start, end           int64
		createdAt, updatedAt int64
		paidAt, cancelledAt  sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.RequesterID, &r.ListingID, &start, &end, &r.GuestCount, &r.TotalPrice,
		&state, &payment, &createdAt, &updatedAt, &paidAt, &cancelledAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	if r.State, err = models.ParseState(state); err != nil {
		return nil, err
	}
	if r.PaymentState, err = models.ParsePaymentState(payment); err != nil {
		return nil, err
	}
	r.Start = fromMillis(start)
	r.End = fromMillis(end)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	r.PaidAt = fromNullMillis(paidAt)
	r.CancelledAt = fromNullMillis(cancelledAt)
	return &r, nil
}

func scanReservations(rows *sql.Rows) ([]*models.Reservation, error) {
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unavailable(listingID string, conflicts []*models.Reservation) error {
	stays := make([]models.Stay, 0, len(conflicts))
	for _, c := range conflicts {
		stays = append(stays, c.Stay())
	}
	return &domain.UnavailableError{ListingID: listingID, Conflicts: stays}
}

func stateArgs(states []models.State) (string, []any) {
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(placeholders, ","), args
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Время хранится в миллисекундах unix: сравнения в SQL не зависят от формата строк.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
