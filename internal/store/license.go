package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark8pips/licensing/internal/model"
)

type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

func scanLicense(scanner interface{ Scan(...any) error }) (*model.License, error) {
	var l model.License
	var accountNumbers sql.NullString
	var lastValidation sql.NullTime
	err := scanner.Scan(
		&l.ID, &l.Key, &l.UserID, &l.EAName, &accountNumbers, &l.Status,
		&l.ValidationCount, &lastValidation, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accountNumbers.Valid && accountNumbers.String != "" {
		if err := json.Unmarshal([]byte(accountNumbers.String), &l.AccountNumbers); err != nil {
			return nil, fmt.Errorf("decode account numbers: %w", err)
		}
	}
	if lastValidation.Valid {
		l.LastValidation = &lastValidation.Time
	}
	return &l, nil
}

const licenseCols = `id, license_key, user_id, ea_name, account_numbers, status, validation_count, last_validation, created_at`

func (s *LicenseStore) Create(l *model.License) (*model.License, error) {
	var accountNumbers any
	if len(l.AccountNumbers) > 0 {
		encoded, err := json.Marshal(l.AccountNumbers)
		if err != nil {
			return nil, fmt.Errorf("encode account numbers: %w", err)
		}
		accountNumbers = string(encoded)
	}

	result, err := s.db.Exec(
		`INSERT INTO licenses (license_key, user_id, ea_name, account_numbers, status, validation_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.Key, l.UserID, l.EAName, accountNumbers, l.Status, l.ValidationCount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *LicenseStore) GetByID(id int64) (*model.License, error) {
	row := s.db.QueryRow(`SELECT `+licenseCols+` FROM licenses WHERE id = ?`, id)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

func (s *LicenseStore) GetByKey(key string) (*model.License, error) {
	row := s.db.QueryRow(`SELECT `+licenseCols+` FROM licenses WHERE license_key = ?`, key)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return l, nil
}

func (s *LicenseStore) GetByUserID(userID int64) (*model.License, error) {
	row := s.db.QueryRow(
		`SELECT `+licenseCols+` FROM licenses WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`,
		userID,
	)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by user: %w", err)
	}
	return l, nil
}

// RecordValidation counts a successful validation. The increment happens in
// the database; concurrent validations may interleave but never corrupt the
// counter, which is advisory telemetry.
func (s *LicenseStore) RecordValidation(key string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE licenses SET validation_count = validation_count + 1, last_validation = ? WHERE license_key = ?`,
		at.UTC(), key,
	)
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	return nil
}

func (s *LicenseStore) UpdateStatus(key, status string) error {
	_, err := s.db.Exec(
		`UPDATE licenses SET status = ? WHERE license_key = ?`,
		status, key,
	)
	if err != nil {
		return fmt.Errorf("update license status: %w", err)
	}
	return nil
}
