package migrations

import (
	"io/fs"
	"testing"
)

func TestScoresMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(ScoresFS, "scores")
	if err != nil {
		t.Fatalf("read scores migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected scores migrations to be embedded")
	}
}
