package db

import "testing"

func TestSource(t *testing.T) {
	if Source("") == nil || Source(EmbeddedDir) == nil {
		t.Fatalf("expected embedded migrations for the default dir")
	}
	if Source("/srv/feed/migrations") != nil {
		t.Fatalf("expected local filesystem for a custom dir")
	}
}
