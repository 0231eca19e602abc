/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to orders, email captures, and the audit log.
 *
 * @dependencies
 * - context, errors, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/packlane/order-service/internal/domain"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrDuplicateSession    = errors.New("external session id already bound to an order")
	ErrVersionConflict     = errors.New("order version conflict")
	ErrEntitlementNotFound = errors.New("download token not found")
	ErrQuotaExhausted      = errors.New("download quota exhausted")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, external_session_id, COALESCE(external_payment_id, '') AS external_payment_id,
       product_id, COALESCE(customer_email, '') AS customer_email, amount, status,
       COALESCE(download_token, '') AS download_token, download_count, max_downloads,
       version, completed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID, &order.ExternalSessionID, &order.ExternalPaymentID,
		&order.ProductID, &order.CustomerEmail, &order.Amount, &order.Status,
		&order.DownloadToken, &order.DownloadCount, &order.MaxDownloads,
		&order.Version, &order.CompletedAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder inserts a new pending order with its gateway session binding.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, external_session_id, product_id, customer_email, amount, status,
		                    download_count, max_downloads, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, 1, NOW(), NOW())
		RETURNING version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		order.ID, order.ExternalSessionID, order.ProductID, order.CustomerEmail,
		order.Amount, order.Status, order.MaxDownloads,
	).Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateSession
		}
		return err
	}
	return nil
}

// FindOrderByID retrieves an order by its internal id.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// FindOrderBySessionID retrieves an order by the gateway checkout session id.
func (r *PostgresRepository) FindOrderBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_session_id = $1`, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// FindOrderByDownloadToken retrieves an order by its minted download token.
func (r *PostgresRepository) FindOrderByDownloadToken(ctx context.Context, token string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE download_token = $1 AND download_token <> ''`, token))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntitlementNotFound
		}
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders for the admin view, newest first.
func (r *PostgresRepository) ListOrders(ctx context.Context, opts domain.OrderListOptions) ([]domain.Order, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	var conditions []string
	var args []interface{}

	if opts.Status != "" {
		args = append(args, opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(opts.Search) != "" {
		args = append(args, "%"+strings.TrimSpace(opts.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(customer_email ILIKE $%d OR product_id ILIKE $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus applies a status transition gated on the unchanged version.
// The version column increments with every successful write, so a concurrent
// writer that committed first makes this statement match zero rows.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, expectedVersion int64, params UpdateOrderStatusParams) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET status = $3,
		    external_payment_id = COALESCE($4, external_payment_id),
		    completed_at = COALESCE($5, completed_at),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + orderColumns
	order, err := scanOrder(r.db.QueryRow(ctx, query, orderID, expectedVersion, params.Status, params.ExternalPaymentID, params.CompletedAt))
	if err != nil {
		if err == pgx.ErrNoRows {
			// Distinguish a stale version from a missing row so the engine can
			// re-read instead of surfacing a spurious not-found.
			var exists bool
			if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, ErrVersionConflict
			}
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// AttachEntitlement mints the download entitlement onto an order. The guard on
// an empty download_token keeps retried effect execution from re-minting.
func (r *PostgresRepository) AttachEntitlement(ctx context.Context, orderID uuid.UUID, token string, maxDownloads int) (bool, error) {
	query := `
		UPDATE orders
		SET download_token = $2, max_downloads = $3, download_count = 0, updated_at = NOW()
		WHERE id = $1 AND (download_token IS NULL OR download_token = '')
	`
	result, err := r.db.Exec(ctx, query, orderID, token, maxDownloads)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); checkErr != nil {
			return false, checkErr
		}
		if !exists {
			return false, ErrOrderNotFound
		}
		return false, nil
	}
	return true, nil
}

// ConsumeDownload is the single compare-and-increment that enforces the
// download quota. Concurrent callers serialize on the row; only callers that
// observe download_count < max_downloads get a row back.
func (r *PostgresRepository) ConsumeDownload(ctx context.Context, token string) (*domain.Order, error) {
	query := `
		UPDATE orders
		SET download_count = download_count + 1, updated_at = NOW()
		WHERE download_token = $1 AND download_token <> '' AND download_count < max_downloads
		RETURNING ` + orderColumns
	order, err := scanOrder(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if err == pgx.ErrNoRows {
			var exists bool
			if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE download_token = $1 AND download_token <> '')`, token).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, ErrQuotaExhausted
			}
			return nil, ErrEntitlementNotFound
		}
		return nil, err
	}
	return order, nil
}

// CreateEmailCapture records an observed email address. The unique index on
// (email, external_session_id) absorbs duplicate deliveries.
func (r *PostgresRepository) CreateEmailCapture(ctx context.Context, capture *domain.EmailCapture) (bool, error) {
	query := `
		INSERT INTO email_captures (id, email, source, order_id, external_session_id, product_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		capture.ID, capture.Email, capture.Source, capture.OrderID,
		capture.ExternalSessionID, capture.ProductID,
	).Scan(&capture.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AppendAuditLog writes one immutable audit row.
func (r *PostgresRepository) AppendAuditLog(ctx context.Context, entry domain.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, query, entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, createdAt)
	return err
}

// ListAuditLogs returns audit entries for the admin view, newest first.
func (r *PostgresRepository) ListAuditLogs(ctx context.Context, opts domain.AuditLogListOptions) ([]domain.AuditLogEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
	`
	var args []interface{}
	if strings.TrimSpace(opts.EntityID) != "" {
		args = append(args, strings.TrimSpace(opts.EntityID))
		query += " WHERE entity_id = $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var entry domain.AuditLogEntry
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
