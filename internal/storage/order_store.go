package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

const (
	insertOrderSQL = `
		INSERT INTO order_details (location, timestamp, signature, material, a, b, c, d)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	queryOrdersSQL = `
		SELECT id, location, timestamp, signature, material, a, b, c, d
		FROM order_details
		WHERE location = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp, id`
)

// OrderStore implements orders.Store on the order_details table.
type OrderStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ orders.Store = (*OrderStore)(nil)

// NewOrderStore creates an OrderStore on an existing pool.
func NewOrderStore(conn *Connection, logger *slog.Logger) (*OrderStore, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &OrderStore{conn: conn, logger: logger}, nil
}

// Insert writes one order. Timestamps are stored as timestamptz.
func (s *OrderStore) Insert(ctx context.Context, order orders.NormalizedOrder) (orders.StoredOrder, error) {
	if err := order.Validate(); err != nil {
		return orders.StoredOrder{}, err
	}

	var id int64

	err := s.conn.QueryRowContext(ctx, insertOrderSQL,
		order.Location,
		order.Timestamp.UTC(),
		order.Signature,
		order.Material,
		order.Data.A,
		order.Data.B,
		order.Data.C,
		order.Data.D,
	).Scan(&id)
	if err != nil {
		if isDatabaseConnectionError(err) {
			return orders.StoredOrder{}, fmt.Errorf("%w: %w", ErrNoDatabaseConnection, err)
		}

		return orders.StoredOrder{}, fmt.Errorf("%w: insert: %w", ErrOrderStoreFailed, err)
	}

	s.logger.Debug("Order stored",
		slog.Int64("id", id),
		slog.String("location", order.Location),
	)

	return order.Stored(id), nil
}

// QueryRange reads the orders of location in [start, end).
func (s *OrderStore) QueryRange(
	ctx context.Context,
	location string,
	start, end time.Time,
) ([]orders.StoredOrder, error) {
	rows, err := s.conn.QueryContext(ctx, queryOrdersSQL, location, start.UTC(), end.UTC())
	if err != nil {
		if isDatabaseConnectionError(err) {
			return nil, fmt.Errorf("%w: %w", ErrNoDatabaseConnection, err)
		}

		return nil, fmt.Errorf("%w: query: %w", ErrOrderStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	result := []orders.StoredOrder{}

	for rows.Next() {
		var o orders.StoredOrder

		if err := rows.Scan(
			&o.ID,
			&o.Location,
			&o.Timestamp,
			&o.Signature,
			&o.Material,
			&o.Data.A,
			&o.Data.B,
			&o.Data.C,
			&o.Data.D,
		); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrOrderStoreFailed, err)
		}

		result = append(result, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrOrderStoreFailed, err)
	}

	return result, nil
}

// HealthCheck pings the underlying pool.
func (s *OrderStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close releases the pool.
func (s *OrderStore) Close() error {
	return s.conn.Close()
}
