package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPendingMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := pendingMigrations(dir)
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	want := []string{"001_a.up.sql", "002_b.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPendingMigrations_MissingDir(t *testing.T) {
	if _, err := pendingMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestShippedMigrationsAreOrdered(t *testing.T) {
	got, err := pendingMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(got) == 0 || got[0] != "001_init.up.sql" {
		t.Errorf("unexpected migrations %v", got)
	}
}
