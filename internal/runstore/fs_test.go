package runstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := map[string]int{"succeeded": 3, "failed": 1}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["succeeded"] != 3 || out["failed"] != 1 {
		t.Fatalf("unexpected round trip: %+v", out)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestLatestManifestPicksLastRun(t *testing.T) {
	dest := t.TempDir()
	if _, err := LatestManifest(dest); err == nil {
		t.Fatalf("expected error when no runs exist")
	}

	for _, id := range []string{"c0aaaaaaaaaaaaaaaaa1", "c0aaaaaaaaaaaaaaaaa3", "c0aaaaaaaaaaaaaaaaa2"} {
		if err := WriteJSON(ManifestPath(dest, id), map[string]string{"run_id": id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(RunLogPath(dest, "c0aaaaaaaaaaaaaaaaa9"), []byte("log"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LatestManifest(dest)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(got) != "c0aaaaaaaaaaaaaaaaa3.json" {
		t.Fatalf("unexpected latest manifest %s", got)
	}
}
