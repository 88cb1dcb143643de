package store

import (
	"testing"

	"github.com/mark8pips/licensing/internal/database"
)

func setupSettingsTestDB(t *testing.T) (*SettingsStore, *ActivityStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSettingsStore(db), NewActivityStore(db)
}

func TestSettingsSetAndGet(t *testing.T) {
	ss, _ := setupSettingsTestDB(t)

	if err := ss.Set("site_title", "Mark8Pips"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := ss.Get("site_title")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "Mark8Pips" {
		t.Errorf("got = %q, want Mark8Pips", got)
	}

	// Upsert overwrites.
	if err := ss.Set("site_title", "Mark8Pips Pro"); err != nil {
		t.Fatalf("set again: %v", err)
	}
	got, _ = ss.Get("site_title")
	if got != "Mark8Pips Pro" {
		t.Errorf("got = %q, want Mark8Pips Pro", got)
	}
}

func TestSettingsGetMissing(t *testing.T) {
	ss, _ := setupSettingsTestDB(t)

	got, err := ss.Get("nonexistent")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != "" {
		t.Errorf("got = %q, want empty", got)
	}
}

func TestSettingsGetAll(t *testing.T) {
	ss, _ := setupSettingsTestDB(t)

	pairs := map[string]string{
		"site_title":    "Mark8Pips",
		"support_email": "support@mark8pips.com",
	}
	for k, v := range pairs {
		if err := ss.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	all, err := ss.GetAll()
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	for k, v := range pairs {
		if all[k] != v {
			t.Errorf("all[%q] = %q, want %q", k, all[k], v)
		}
	}
}

func TestActivityAppendAndList(t *testing.T) {
	_, as := setupSettingsTestDB(t)

	actions := []string{"upgrade", "extend", "suspend"}
	for _, a := range actions {
		if err := as.Append("admin@mark8pips.com", a, "account:1000001", ""); err != nil {
			t.Fatalf("append %s: %v", a, err)
		}
	}

	entries, err := as.ListRecent(2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2 (limit applied)", len(entries))
	}
	for _, e := range entries {
		if e.Actor != "admin@mark8pips.com" {
			t.Errorf("actor = %q, want admin@mark8pips.com", e.Actor)
		}
	}
}
