package store

import (
	"database/sql"
	"fmt"

	"github.com/mark8pips/licensing/internal/model"
)

// ActivityStore is an append-only log of administrative actions. Nothing in
// the lifecycle engine reads it back.
type ActivityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Append(actor, action, target, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO admin_activity (actor, action, target, detail) VALUES (?, ?, ?, ?)`,
		actor, action, target, detail,
	)
	if err != nil {
		return fmt.Errorf("append admin activity: %w", err)
	}
	return nil
}

func (s *ActivityStore) ListRecent(limit int) ([]*model.AdminActivity, error) {
	rows, err := s.db.Query(
		`SELECT id, actor, action, target, detail, created_at FROM admin_activity ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list admin activity: %w", err)
	}
	defer rows.Close()

	var entries []*model.AdminActivity
	for rows.Next() {
		var a model.AdminActivity
		if err := rows.Scan(&a.ID, &a.Actor, &a.Action, &a.Target, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin activity: %w", err)
		}
		entries = append(entries, &a)
	}
	return entries, rows.Err()
}
