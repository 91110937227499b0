package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	stateDirName = ".kickdl"
	runsDirName  = "runs"
	logsDirName  = "logs"
)

func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".kickdl-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

// StateDir is the bookkeeping directory kept inside a destination directory.
func StateDir(destDir string) string {
	return filepath.Join(destDir, stateDirName)
}

func ManifestPath(destDir, runID string) string {
	return filepath.Join(StateDir(destDir), runsDirName, runID+".json")
}

func RunLogPath(destDir, runID string) string {
	return filepath.Join(StateDir(destDir), runsDirName, runID+".log")
}

// CreateRunLog opens a fresh run log, creating the runs directory first.
func CreateRunLog(destDir, runID string) (*os.File, error) {
	path := RunLogPath(destDir, runID)
	if err := Mkdir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create run log %s: %w", path, err)
	}
	return f, nil
}

func ItemLogDir(destDir, runID string) string {
	return filepath.Join(StateDir(destDir), logsDirName, runID)
}

// ListManifests returns the run manifests of destDir, oldest first. Run ids
// are xids, so lexical order is creation order.
func ListManifests(destDir string) ([]string, error) {
	dir := filepath.Join(StateDir(destDir), runsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read runs directory %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func LatestManifest(destDir string) (string, error) {
	paths, err := ListManifests(destDir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no runs recorded in %s", destDir)
	}
	return paths[len(paths)-1], nil
}
