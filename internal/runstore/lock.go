package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	destLockDirName   = "run.lock"
	destLockOwnerFile = "owner.json"
)

// DestLock keeps two runs from writing into the same destination directory.
type DestLock struct {
	lockDir string
}

type destLockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireDestLock(destDir, runID string) (DestLock, error) {
	target := strings.TrimSpace(destDir)
	if target == "" {
		return DestLock{}, fmt.Errorf("destination directory is required")
	}
	if err := Mkdir(StateDir(target)); err != nil {
		return DestLock{}, err
	}

	lockDir := filepath.Join(StateDir(target), destLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, destLockOwnerFile)
			var owner destLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return DestLock{}, fmt.Errorf(
					"destination is locked by another run: %s (pid=%d run_id=%s created_at=%s host=%s)",
					target, owner.PID, owner.RunID, owner.CreatedAt, owner.Hostname,
				)
			}
			return DestLock{}, fmt.Errorf("destination is locked by another run: %s", target)
		}
		return DestLock{}, fmt.Errorf("acquire destination lock for %s: %w", target, err)
	}

	owner := destLockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, destLockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return DestLock{}, fmt.Errorf("write destination lock owner for %s: %w", target, err)
	}

	return DestLock{lockDir: lockDir}, nil
}

func (l DestLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, destLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release destination lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
