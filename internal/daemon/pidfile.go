package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ProcessInfo describes a running server. It is written to the pid file.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// IsAlive reports whether the process still exists.
func (p *ProcessInfo) IsAlive() bool {
	process, err := os.FindProcess(p.PID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Signal sends sig to the process.
func (p *ProcessInfo) Signal(sig os.Signal) error {
	process, err := os.FindProcess(p.PID)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}

// WritePIDFile records info at path.
func WritePIDFile(path string, info ProcessInfo) error {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// ReadPIDFile reads the pid file. It returns nil, nil when there is none.
func ReadPIDFile(path string) (*ProcessInfo, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info ProcessInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	return &info, nil
}

// RemovePIDFile removes the pid file if it still names pid.
func RemovePIDFile(path string, pid int) {
	info, err := ReadPIDFile(path)
	if err != nil || info == nil || info.PID != pid {
		return
	}
	_ = os.Remove(path)
}
