package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stock-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrInventoryNotFound is returned when no inventory record exists for
// the requested product option.
var ErrInventoryNotFound = errors.New("inventory not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetInventoryForUpdate loads the inventory row for a product option with
// a pessimistic row lock. Callers hold the lock until the transaction
// commits or rolls back.
func (s *Store) GetInventoryForUpdate(ctx context.Context, tx *sqlx.Tx, productID, optionID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := tx.GetContext(ctx, &inv,
		`SELECT * FROM inventory
		 WHERE product_id = $1 AND option_id IS NOT DISTINCT FROM $2
		 FOR UPDATE`,
		productID, models.Option(optionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: product=%d option=%d", ErrInventoryNotFound, productID, optionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory row: %w", err)
	}
	return &inv, nil
}

// SaveInventory persists mutated counters inside the caller's transaction.
func (s *Store) SaveInventory(ctx context.Context, tx *sqlx.Tx, inv *models.Inventory) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE inventory
		 SET available_quantity = $1, reserved_quantity = $2, sold_quantity = $3, updated_at = NOW()
		 WHERE id = $4`,
		inv.Available, inv.Reserved, inv.Sold, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to save inventory: %w", err)
	}
	return nil
}

// GetInventory loads the inventory row without locking (read path).
func (s *Store) GetInventory(ctx context.Context, productID, optionID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv,
		`SELECT * FROM inventory
		 WHERE product_id = $1 AND option_id IS NOT DISTINCT FROM $2`,
		productID, models.Option(optionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: product=%d option=%d", ErrInventoryNotFound, productID, optionID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateInventory provisions the counters for a new catalog option:
// everything available, nothing reserved or sold.
func (s *Store) CreateInventory(ctx context.Context, productID, optionID int64, total int) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv,
		`INSERT INTO inventory (product_id, option_id, total_quantity, available_quantity, reserved_quantity, sold_quantity)
		 VALUES ($1, $2, $3, $3, 0, 0)
		 RETURNING *`,
		productID, models.Option(optionID), total)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory: %w", err)
	}
	return &inv, nil
}
