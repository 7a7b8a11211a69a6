package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %q", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestSyncActionsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_sync_actions.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS sync_actions",
		"CHECK (attempt_count >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_actions_identity",
		"ON sync_actions (tenant_id, system_code, source_entity_id, kind)",
		"WHERE state = 'failed' AND next_retry_at IS NOT NULL",
		"ON sync_actions (tenant_id, created_at DESC, id DESC)",
		"DROP TABLE IF EXISTS sync_actions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOutboxEventsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_outbox_events.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate",
		"WHERE event_type <> 'sync_action_failed'",
		"WHERE published_at IS NULL",
		"DROP TABLE IF EXISTS outbox_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
