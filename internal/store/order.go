package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mark8pips/licensing/internal/model"
)

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

func scanOrder(scanner interface{ Scan(...any) error }) (*model.Order, error) {
	var o model.Order
	var method, paymentID, sessionID, clientIP sql.NullString
	var completedAt sql.NullTime
	err := scanner.Scan(
		&o.ID, &o.ProductID, &o.CustomerName, &o.CustomerEmail, &o.AccountNumber,
		&o.SubscriptionType, &o.Amount, &o.OriginalAmount, &o.DiscountAmount,
		&o.PaymentStatus, &method, &paymentID, &sessionID, &clientIP,
		&o.CreatedAt, &completedAt, &o.ProductName,
	)
	if err != nil {
		return nil, err
	}
	if method.Valid {
		o.PaymentMethod = &method.String
	}
	if paymentID.Valid {
		o.PaymentID = &paymentID.String
	}
	if sessionID.Valid {
		o.StripeSessionID = &sessionID.String
	}
	if clientIP.Valid {
		o.ClientIP = &clientIP.String
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	return &o, nil
}

// Orders always join their product so ProductName is populated everywhere.
const orderCols = `o.id, o.product_id, o.customer_name, o.customer_email, o.account_number, o.subscription_type, o.amount, o.original_amount, o.discount_amount, o.payment_status, o.payment_method, o.payment_id, o.stripe_session_id, o.client_ip, o.created_at, o.completed_at, p.name`

const orderFrom = ` FROM orders o JOIN products p ON p.id = o.product_id`

func (s *OrderStore) Create(o *model.Order) (*model.Order, error) {
	_, err := s.db.Exec(
		`INSERT INTO orders (id, product_id, customer_name, customer_email, account_number, subscription_type, amount, original_amount, discount_amount, payment_status, client_ip)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ProductID, o.CustomerName, o.CustomerEmail, o.AccountNumber,
		o.SubscriptionType, o.Amount, o.OriginalAmount, o.DiscountAmount,
		model.PaymentPending, o.ClientIP,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return s.GetByID(o.ID)
}

func (s *OrderStore) GetByID(id string) (*model.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderCols+orderFrom+` WHERE o.id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// MarkCompleted flips the order from pending to completed exactly once.
// Returns false when the order was not pending, which is how duplicate
// webhook deliveries are absorbed.
func (s *OrderStore) MarkCompleted(id, method, paymentID string, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE orders SET payment_status = ?, payment_method = ?, payment_id = ?, completed_at = ?
		 WHERE id = ? AND payment_status = ?`,
		model.PaymentCompleted, method, paymentID, at.UTC(), id, model.PaymentPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark order completed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkExpired abandons a pending order whose checkout session lapsed.
func (s *OrderStore) MarkExpired(id string) error {
	_, err := s.db.Exec(
		`UPDATE orders SET payment_status = ? WHERE id = ? AND payment_status = ?`,
		model.PaymentExpired, id, model.PaymentPending,
	)
	if err != nil {
		return fmt.Errorf("mark order expired: %w", err)
	}
	return nil
}

func (s *OrderStore) SetStripeSessionID(id, sessionID string) error {
	_, err := s.db.Exec(
		`UPDATE orders SET stripe_session_id = ? WHERE id = ?`,
		sessionID, id,
	)
	if err != nil {
		return fmt.Errorf("set stripe session id: %w", err)
	}
	return nil
}

// List returns all orders with their product names, newest first.
func (s *OrderStore) List() ([]*model.Order, error) {
	rows, err := s.db.Query(`SELECT ` + orderCols + orderFrom + ` ORDER BY o.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
