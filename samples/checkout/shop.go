// Package checkout is an e-commerce checkout built on durable workflows. Inventory, payment sessions
// and order state live in the backend's database so every change commits together with its step.
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-durable/durable/internal/sqlstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrOutOfStock = errors.New("out of stock")

type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID    string `json:"id"`
	Items []Item `json:"items"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		sku VARCHAR(64) NOT NULL PRIMARY KEY,
		stock INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_sessions (
		order_id VARCHAR(64) NOT NULL PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_items (
		order_id VARCHAR(64) NOT NULL,
		sku VARCHAR(64) NOT NULL,
		quantity INTEGER NOT NULL
	)`,
}

type Shop struct {
	db      *sql.DB
	dialect *sqlstore.Dialect

	// PaymentTimeout is how long a checkout waits for the payment status before releasing the
	// reserved inventory.
	PaymentTimeout time.Duration

	// PaymentURL is the prefix of the payment link published for a session
	PaymentURL string

	beforePayment func(ctx context.Context) error
}

// NewShop uses db, which must be the database of the backend running the checkout workflows.
func NewShop(db *sql.DB, dialect *sqlstore.Dialect) *Shop {
	return &Shop{
		db:             db,
		dialect:        dialect,
		PaymentTimeout: 15 * time.Minute,
		PaymentURL:     "https://pay.example.com/session/",
	}
}

func (s *Shop) q(query string) string {
	return s.dialect.Rebind(query)
}

// Setup creates the shop's tables if they do not exist.
func (s *Shop) Setup(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "creating shop schema")
		}
	}

	return nil
}

// Restock sets the stock of sku.
func (s *Shop) Restock(ctx context.Context, sku string, stock int) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE inventory SET stock = ? WHERE sku = ?"), stock, sku)
	if err != nil {
		return errors.Wrap(err, "updating stock")
	}

	if rows, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "updating stock")
	} else if rows > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, s.q("INSERT INTO inventory (sku, stock) VALUES (?, ?)"), sku, stock)
	return errors.Wrap(err, "inserting stock")
}

func (s *Shop) Stock(ctx context.Context, sku string) (int, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, s.q("SELECT stock FROM inventory WHERE sku = ?"), sku).Scan(&stock)
	return stock, errors.Wrap(err, "getting stock")
}

// ReserveInventory takes the ordered quantities out of stock. Fails with ErrOutOfStock, reserving
// nothing, if any item is not available.
func (s *Shop) ReserveInventory(ctx context.Context, tx *sql.Tx, order Order) error {
	for _, item := range order.Items {
		res, err := tx.ExecContext(ctx, s.q("UPDATE inventory SET stock = stock - ? WHERE sku = ? AND stock >= ?"), item.Quantity, item.SKU, item.Quantity)
		if err != nil {
			return errors.Wrap(err, "reserving inventory")
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "reserving inventory")
		}

		if rows == 0 {
			return fmt.Errorf("reserving %d x %s: %w", item.Quantity, item.SKU, ErrOutOfStock)
		}
	}

	return nil
}

// UndoReservation puts the ordered quantities back into stock and cancels the payment session.
func (s *Shop) UndoReservation(ctx context.Context, tx *sql.Tx, order Order) error {
	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, s.q("UPDATE inventory SET stock = stock + ? WHERE sku = ?"), item.Quantity, item.SKU); err != nil {
			return errors.Wrap(err, "releasing inventory")
		}
	}

	_, err := tx.ExecContext(ctx, s.q("UPDATE payment_sessions SET status = ? WHERE order_id = ?"), StatusCancelled, order.ID)
	return errors.Wrap(err, "cancelling payment session")
}

// CreatePaymentSession creates the payment session of the order and returns its id. The order id is
// the idempotency key: calling it again for the same order returns the existing session.
func (s *Shop) CreatePaymentSession(ctx context.Context, tx *sql.Tx, order Order) (string, error) {
	if s.beforePayment != nil {
		if err := s.beforePayment(ctx); err != nil {
			return "", err
		}
	}

	var sessionID string
	err := tx.QueryRowContext(ctx, s.q("SELECT session_id FROM payment_sessions WHERE order_id = ?"), order.ID).Scan(&sessionID)
	if err == nil {
		return sessionID, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrap(err, "looking up payment session")
	}

	sessionID = uuid.NewString()
	if _, err := tx.ExecContext(ctx, s.q("INSERT INTO payment_sessions (order_id, session_id, status) VALUES (?, ?, ?)"), order.ID, sessionID, "open"); err != nil {
		return "", errors.Wrap(err, "creating payment session")
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, s.q("INSERT INTO session_items (order_id, sku, quantity) VALUES (?, ?, ?)"), order.ID, item.SKU, item.Quantity); err != nil {
			return "", errors.Wrap(err, "adding session item")
		}
	}

	return sessionID, nil
}

// FulfillOrder marks the payment session of the order as fulfilled.
func (s *Shop) FulfillOrder(ctx context.Context, tx *sql.Tx, order Order) error {
	_, err := tx.ExecContext(ctx, s.q("UPDATE payment_sessions SET status = ? WHERE order_id = ?"), StatusFulfilled, order.ID)
	return errors.Wrap(err, "fulfilling order")
}

// SessionStatus returns the status of the payment session of the order.
func (s *Shop) SessionStatus(ctx context.Context, orderID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, s.q("SELECT status FROM payment_sessions WHERE order_id = ?"), orderID).Scan(&status)
	return status, errors.Wrap(err, "getting payment session")
}
