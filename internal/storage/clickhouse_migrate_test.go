package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type recordingExecer struct {
	statements []string
	failOn     int
}

func (r *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return errors.New("boom")
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- daily prices
CREATE TABLE IF NOT EXISTS a (
    x UInt8
) ENGINE = Memory;

-- second
CREATE TABLE IF NOT EXISTS b (y UInt8) ENGINE = Memory;
SELECT 1`

	got := splitSQLStatements(content)
	if len(got) != 3 {
		t.Fatalf("splitSQLStatements() returned %d statements, want 3: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE IF NOT EXISTS a (\n    x UInt8\n) ENGINE = Memory" {
		t.Errorf("first statement = %q", got[0])
	}
	if got[2] != "SELECT 1" {
		t.Errorf("last statement = %q", got[2])
	}
}

func TestRunClickHouseMigrations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"002_second.sql": "CREATE TABLE b (y UInt8) ENGINE = Memory;",
		"001_first.sql":  "CREATE TABLE a (x UInt8) ENGINE = Memory;\nCREATE TABLE c (z UInt8) ENGINE = Memory;",
		"README.md":      "not a migration",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	exec := &recordingExecer{}
	if err := RunClickHouseMigrations(context.Background(), exec, dir); err != nil {
		t.Fatalf("RunClickHouseMigrations() error = %v", err)
	}

	want := []string{
		"CREATE TABLE a (x UInt8) ENGINE = Memory",
		"CREATE TABLE c (z UInt8) ENGINE = Memory",
		"CREATE TABLE b (y UInt8) ENGINE = Memory",
	}
	if len(exec.statements) != len(want) {
		t.Fatalf("executed %d statements, want %d", len(exec.statements), len(want))
	}
	for i := range want {
		if exec.statements[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, exec.statements[i], want[i])
		}
	}

	failing := &recordingExecer{failOn: 2}
	if err := RunClickHouseMigrations(context.Background(), failing, dir); err == nil {
		t.Error("expected an error when a statement fails")
	}
}

func TestRunClickHouseMigrationsMissingDir(t *testing.T) {
	err := RunClickHouseMigrations(context.Background(), &recordingExecer{}, filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestRepositoryMigrationsParse(t *testing.T) {
	statements := 0
	entries, err := os.ReadDir("../../migrations/clickhouse")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join("../../migrations/clickhouse", e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		statements += len(splitSQLStatements(string(raw)))
	}
	if statements == 0 {
		t.Error("expected at least one ClickHouse migration statement")
	}
}
