package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDoctorReportsEachCheck(t *testing.T) {
	binDir := t.TempDir()
	ffmpegPath := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(ffmpegPath, []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir)

	out := filepath.Join(t.TempDir(), "downloads")
	res := Doctor(context.Background(), DoctorOptions{
		OutputDir: out,
		APIProbe:  func(context.Context) error { return nil },
	})
	if !res.OK {
		t.Fatalf("expected all checks to pass: %+v", res.Checks)
	}
	if len(res.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %+v", res.Checks)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected output dir to be created: %v", err)
	}
}

func TestDoctorFailsOnMissingDependencyAndProbe(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	res := Doctor(context.Background(), DoctorOptions{
		OutputDir:  t.TempDir(),
		ConfigFile: filepath.Join(t.TempDir(), "kickdl.toml"),
		APIProbe:   func(context.Context) error { return errors.New("HTTP 403") },
	})
	if res.OK {
		t.Fatalf("expected doctor to fail")
	}
	failed := map[string]bool{}
	for _, c := range res.Checks {
		if !c.OK {
			failed[c.Name] = true
		}
	}
	for _, name := range []string{"dependency:ffmpeg", "config:file", "api:kick"} {
		if !failed[name] {
			t.Fatalf("expected %s to fail, got %+v", name, res.Checks)
		}
	}
}
