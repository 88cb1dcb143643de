package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark8pips/licensing/internal/model"
)

type DownloadStore struct {
	db *sql.DB
}

func NewDownloadStore(db *sql.DB) *DownloadStore {
	return &DownloadStore{db: db}
}

func scanDownloadToken(scanner interface{ Scan(...any) error }) (*model.DownloadToken, error) {
	var t model.DownloadToken
	err := scanner.Scan(&t.ID, &t.Token, &t.OrderID, &t.AccountNumber, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const downloadTokenCols = `id, token, order_id, account_number, expires_at, created_at`

// Create mints a fresh time-limited download token for an order.
func (s *DownloadStore) Create(orderID string, accountNumber int64, expiresAt time.Time) (*model.DownloadToken, error) {
	token := uuid.NewString()
	result, err := s.db.Exec(
		`INSERT INTO download_tokens (token, order_id, account_number, expires_at) VALUES (?, ?, ?, ?)`,
		token, orderID, accountNumber, expiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert download token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+downloadTokenCols+` FROM download_tokens WHERE id = ?`, id)
	return scanDownloadToken(row)
}

// GetValid returns the token row when it exists and has not expired.
func (s *DownloadStore) GetValid(token string, now time.Time) (*model.DownloadToken, error) {
	row := s.db.QueryRow(
		`SELECT `+downloadTokenCols+` FROM download_tokens WHERE token = ? AND expires_at > ?`,
		token, now.UTC(),
	)
	t, err := scanDownloadToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download token: %w", err)
	}
	return t, nil
}

func (s *DownloadStore) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM download_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired download tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// LogDownload records a served download for audit.
func (s *DownloadStore) LogDownload(token string, accountNumber int64, fileType, ip string) error {
	_, err := s.db.Exec(
		`INSERT INTO download_logs (token, account_number, file_type, ip_address) VALUES (?, ?, ?, ?)`,
		token, accountNumber, fileType, ip,
	)
	if err != nil {
		return fmt.Errorf("log download: %w", err)
	}
	return nil
}
