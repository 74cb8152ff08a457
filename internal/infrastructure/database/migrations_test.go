package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrations is a two-step schema used by the migration tests.
func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20261001_100000_create_devices.up.sql": {
			Data: []byte("CREATE TABLE test_devices (id TEXT PRIMARY KEY, host TEXT NOT NULL);"),
		},
		"20261001_100000_create_devices.down.sql": {
			Data: []byte("DROP TABLE test_devices;"),
		},
		"20261002_110000_create_polls.up.sql": {
			Data: []byte("CREATE TABLE test_polls (device_id TEXT NOT NULL, at TEXT NOT NULL);"),
		},
		"20261002_110000_create_polls.down.sql": {
			Data: []byte("DROP TABLE test_polls;"),
		},
		"README.md": {Data: []byte("ignored")},
	}
}

func openMigratingDB(t *testing.T, migrations fstest.MapFS) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
		Migrations:  migrations,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openMigratingDB(t, testMigrations())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_devices", "test_polls"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20261001_100000" {
		t.Errorf("first applied = %s, want oldest first", applied[0].Version)
	}

	// Running again is idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrateDown verifies migration rollback of the newest migration only.
func TestMigrateDown(t *testing.T) {
	db := openMigratingDB(t, testMigrations())
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_polls") {
		t.Error("test_polls still exists after MigrateDown")
	}
	if !tableExists(t, db, "test_devices") {
		t.Error("test_devices dropped by a single MigrateDown")
	}

	_, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "create_polls" {
		t.Errorf("pending = %+v, want create_polls", pending)
	}
}

func TestMigrateDown_NothingApplied(t *testing.T) {
	db := openMigratingDB(t, testMigrations())
	ctx := context.Background()
	if err := db.createMigrationsTable(ctx); err != nil {
		t.Fatalf("createMigrationsTable() error = %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() error = %v, want nil", err)
	}
}

// TestMigrateNoMigrations verifies a nil filesystem is not an error.
func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	fsys := testMigrations()
	fsys["20261003_120000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE test_broken (; nonsense")}
	db := openMigratingDB(t, fsys)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 2 and 1", len(applied), len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"up migration", "20261017_090000_command_log.up.sql", "20261017_090000", true, true},
		{"down migration", "20261017_090000_command_log.down.sql", "20261017_090000", false, true},
		{"no direction", "20261017_090000_command_log.sql", "", false, false},
		{"not sql", "20261017_090000_command_log.up.txt", "", false, false},
		{"no version", "command.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = (%q, %t, %t), want (%q, %t, %t)",
					tt.filename, version, isUp, ok, tt.wantVersion, tt.wantUp, tt.wantOK)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261017_090000_command_log.up.sql", "command_log"},
		{"20261017_090000_command_log.down.sql", "command_log"},
		{"20261017_090000.up.sql", "20261017_090000"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestLoadMigrations_OrphanDown(t *testing.T) {
	fsys := testMigrations()
	fsys["20261005_080000_orphan.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE nothing;")}

	if _, err := loadMigrations(fsys); err == nil {
		t.Error("loadMigrations() expected error for down migration without up")
	}
}
