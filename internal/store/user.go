package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mark8pips/licensing/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var accountNumber sql.NullInt64
	var email, accountName, brokerName, eaVersion, mt5Build sql.NullString
	var balance sql.NullFloat64
	var lastSeen sql.NullTime
	err := scanner.Scan(
		&u.ID, &accountNumber, &email, &accountName, &brokerName, &balance,
		&eaVersion, &mt5Build, &u.SubscriptionType, &u.Status, &u.ExpiresAt,
		&u.ValidationCount, &u.FirstSeen, &lastSeen, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accountNumber.Valid {
		u.AccountNumber = &accountNumber.Int64
	}
	if email.Valid {
		u.Email = &email.String
	}
	if accountName.Valid {
		u.AccountName = &accountName.String
	}
	if brokerName.Valid {
		u.BrokerName = &brokerName.String
	}
	if balance.Valid {
		u.AccountBalance = &balance.Float64
	}
	if eaVersion.Valid {
		u.EAVersion = &eaVersion.String
	}
	if mt5Build.Valid {
		u.MT5Build = &mt5Build.String
	}
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}
	return &u, nil
}

const userCols = `id, account_number, email, account_name, broker_name, account_balance, ea_version, mt5_build, subscription_type, status, expires_at, validation_count, first_seen, last_seen, created_at, updated_at`

func (s *UserStore) Create(u *model.User) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (account_number, email, account_name, broker_name, account_balance, ea_version, mt5_build, subscription_type, status, expires_at, validation_count, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.AccountNumber, u.Email, u.AccountName, u.BrokerName, u.AccountBalance,
		u.EAVersion, u.MT5Build, u.SubscriptionType, u.Status, u.ExpiresAt.UTC(),
		u.ValidationCount, u.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByAccountNumber(accountNumber int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE account_number = ?`, accountNumber)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by account number: %w", err)
	}
	return u, nil
}

// CheckIn increments validation_count, stamps last_seen, and applies the
// supplied telemetry. Nil telemetry fields keep their stored value
// (partial-update semantics). The increment happens in the database so
// concurrent check-ins never lose the row's other fields.
func (s *UserStore) CheckIn(id int64, tel model.Telemetry, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE users SET
			validation_count = validation_count + 1,
			last_seen = ?,
			account_name = COALESCE(?, account_name),
			broker_name = COALESCE(?, broker_name),
			account_balance = COALESCE(?, account_balance),
			ea_version = COALESCE(?, ea_version),
			mt5_build = COALESCE(?, mt5_build),
			updated_at = ?
		 WHERE id = ?`,
		at.UTC(), tel.AccountName, tel.BrokerName, tel.AccountBalance,
		tel.EAVersion, tel.MT5Build, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("check in user: %w", err)
	}
	return nil
}

func (s *UserStore) UpdatePlan(id int64, subscriptionType, status string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE users SET subscription_type = ?, status = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		subscriptionType, status, expiresAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update user plan: %w", err)
	}
	return nil
}

func (s *UserStore) UpdateStatus(id int64, status string) error {
	_, err := s.db.Exec(
		`UPDATE users SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}

func (s *UserStore) UpdateExpiry(id int64, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE users SET expires_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		expiresAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update user expiry: %w", err)
	}
	return nil
}

// ListExpiring returns active users with an email address whose plan ends
// within the window and who have not been warned this window. Lifetime
// plans never fall inside a realistic window.
func (s *UserStore) ListExpiring(now time.Time, window time.Duration) ([]*model.User, error) {
	rows, err := s.db.Query(
		`SELECT `+userCols+` FROM users
		 WHERE email IS NOT NULL
		   AND status = ?
		   AND expires_at > ?
		   AND expires_at <= ?
		   AND (expiry_warned_at IS NULL OR expiry_warned_at <= ?)
		 ORDER BY expires_at`,
		model.StatusActive, now.UTC(), now.Add(window).UTC(), now.Add(-window).UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expiring users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) MarkExpiryWarned(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE users SET expiry_warned_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark expiry warned: %w", err)
	}
	return nil
}

// List returns all users, most recently seen first.
func (s *UserStore) List() ([]*model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY first_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
