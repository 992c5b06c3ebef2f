package migrations

import (
	"io/fs"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	tests := []struct {
		name  string
		fsys  fs.FS
		root  string
		first string
	}{
		{"events", EventsFS, "events", "001_events.sql"},
		{"projections", ProjectionsFS, "projections", "001_cart_reports.sql"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := fs.ReadDir(tc.fsys, tc.root)
			if err != nil {
				t.Fatalf("read dir: %v", err)
			}
			if len(entries) == 0 {
				t.Fatal("expected migrations")
			}
			if entries[0].Name() != tc.first {
				t.Fatalf("first migration = %q, want %q", entries[0].Name(), tc.first)
			}
		})
	}
}
