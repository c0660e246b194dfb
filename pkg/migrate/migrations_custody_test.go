package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/custody-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
	if err := migrate.ValidateFS(migrate.Migrations()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestValidateFSRejectsBrokenFiles(t *testing.T) {
	valid := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name":       {"001_init.sql": {Data: []byte(valid)}},
		"duplicate":      {"20260101000000_a.sql": {Data: []byte(valid)}, "20260101000000_b.sql": {Data: []byte(valid)}},
		"missing down":   {"20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
		"down before up": {"20260101000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}},
	}
	for name, fsys := range cases {
		if err := migrate.ValidateFS(fsys); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	ok := fstest.MapFS{"20260101000000_a.sql": {Data: []byte(valid)}, "README.md": {Data: []byte("notes")}}
	if err := migrate.ValidateFS(ok); err != nil {
		t.Fatalf("expected valid fs: %v", err)
	}
}

func TestLedgerMigrationEnforcesBalanceInvariants(t *testing.T) {
	content := readMigration(t, "*_create_wallets_and_ledger_entries.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS wallets",
		"CHECK (available_balance >= 0)",
		"CHECK (held_balance >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_tenant",
		"CREATE TABLE IF NOT EXISTS ledger_entries",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_wallet_idem",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_hold_type",
		"trg_ledger_entries_append_only",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestDedupAndCounterMigrations(t *testing.T) {
	webhooks := readMigration(t, "*_create_webhook_events.sql")
	if !strings.Contains(webhooks, "CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_event_id") {
		t.Errorf("webhook events must be unique by event_id")
	}

	counters := readMigration(t, "*_create_sequence_counters.sql")
	if !strings.Contains(counters, "PRIMARY KEY (prefix, year, month)") {
		t.Errorf("sequence counters must be keyed by prefix and period")
	}

	abuse := readMigration(t, "*_create_abuse_scores.sql")
	for _, sub := range []string{"CHECK (current_score >= 0)", "CREATE TABLE IF NOT EXISTS abuse_events"} {
		if !strings.Contains(abuse, sub) {
			t.Errorf("abuse migration missing %q", sub)
		}
	}
}

func TestWebhookPayloadIsStoredAsBytes(t *testing.T) {
	content := readMigration(t, "*_store_webhook_payload_as_bytea.sql")
	if !strings.Contains(content, "ALTER COLUMN payload TYPE bytea") {
		t.Errorf("webhook payload must be stored as bytea")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
