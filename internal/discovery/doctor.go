package discovery

import (
	"context"
	"os"
	"strings"

	"kickdl/internal/ffmpeg"
	"kickdl/internal/runstore"
)

type DoctorOptions struct {
	FFmpegPath string
	OutputDir  string
	ConfigFile string
	// APIProbe, when set, is run as the "api:kick" check.
	APIProbe func(ctx context.Context) error
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func Doctor(ctx context.Context, opts DoctorOptions) DoctorResult {
	outputDir := strings.TrimSpace(opts.OutputDir)
	if outputDir == "" {
		outputDir = "downloads"
	}

	checks := make([]DoctorCheck, 0, 4)
	dep := ffmpeg.DependencyStatus(opts.FFmpegPath)
	checks = append(checks, DoctorCheck{
		Name:    "dependency:ffmpeg",
		OK:      dep.Found,
		Message: dependencyMessage(dep.Found, dep.Path, dep.Binary),
	})

	dirOK, dirMessage := ensureWritableDir(outputDir)
	checks = append(checks, DoctorCheck{
		Name:    "directory:output",
		OK:      dirOK,
		Message: dirMessage,
	})

	if cfg := strings.TrimSpace(opts.ConfigFile); cfg != "" {
		_, err := os.Stat(cfg)
		checks = append(checks, DoctorCheck{
			Name:    "config:file",
			OK:      err == nil,
			Message: configMessage(cfg, err),
		})
	}

	if opts.APIProbe != nil {
		msg := "reachable"
		err := opts.APIProbe(ctx)
		if err != nil {
			msg = err.Error()
		}
		checks = append(checks, DoctorCheck{Name: "api:kick", OK: err == nil, Message: msg})
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func configMessage(path string, err error) string {
	if err != nil {
		return err.Error()
	}
	return "loaded " + path
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "kickdl-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
