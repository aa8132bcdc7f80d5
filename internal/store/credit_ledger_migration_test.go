package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// The ledger guard has to fail loudly. A rewrite that swaps the
// triggers for a silent rule would pass the integration test's happy
// path, so pin the migration text here too.
func TestCreditLedgerGuardMigrationText(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")

	up := readMigration(t, dir, "0006_credit_ledger_immutability_trigger.up.sql")
	for name, want := range map[string]string{
		"guard function": "credit_ledger_immutable_guard",
		"hard failure":   "RAISE EXCEPTION",
		"error code":     "ERRCODE = '55000'",
		"update trigger": "trg_credit_ledger_block_update",
		"delete trigger": "trg_credit_ledger_block_delete",
	} {
		if !strings.Contains(up, want) {
			t.Errorf("up migration is missing the %s (%q)", name, want)
		}
	}
	if strings.Contains(up, "DO INSTEAD") {
		t.Error("up migration uses a silent rewrite rule instead of a blocking trigger")
	}

	down := readMigration(t, dir, "0006_credit_ledger_immutability_trigger.down.sql")
	if !strings.Contains(down, "DROP TRIGGER") || !strings.Contains(down, "DROP FUNCTION") {
		t.Error("down migration must drop both the triggers and the guard function")
	}
}

func readMigration(t *testing.T, dir, name string) string {
	t.Helper()
	body, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(body)
}
