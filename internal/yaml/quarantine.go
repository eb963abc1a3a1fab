package yaml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Recovery says how a corrupt file was brought back.
type Recovery string

const (
	NotRecovered        Recovery = ""
	RecoveredFromBackup Recovery = "backup"
	RecoveredAsSkeleton Recovery = "skeleton"
)

// Quarantine moves a corrupt file under <homeDir>/quarantine with a timestamp
// suffix and returns where it went.
func Quarantine(homeDir, filePath string) (string, error) {
	dir := filepath.Join(homeDir, "quarantine")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	dst := filepath.Join(dir, fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405")))
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup copies path.bak over path. The backup must decode and, when
// fileType is set, carry a matching schema header.
func RestoreFromBackup(filePath, fileType string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no backup file: %s", bakPath)
	} else if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup is corrupt too: %w", err)
	}
	if fileType != "" {
		if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
			return fmt.Errorf("backup header invalid: %w", err)
		}
	}
	if err := os.WriteFile(filePath, content, 0600); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// GenerateSkeleton writes the empty document for fileType.
func GenerateSkeleton(filePath, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0600); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

// RecoverCorruptedFile quarantines filePath, then restores it from .bak or
// falls back to the empty skeleton ("nothing scheduled yet").
func RecoverCorruptedFile(homeDir, filePath, fileType string) (Recovery, error) {
	if _, err := Quarantine(homeDir, filePath); err != nil {
		return NotRecovered, err
	}
	if err := RestoreFromBackup(filePath, fileType); err == nil {
		return RecoveredFromBackup, nil
	}
	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return NotRecovered, err
	}
	return RecoveredAsSkeleton, nil
}

func skeletonFor(fileType string) any {
	header := map[string]any{
		"schema_version": CurrentSchemaVersion,
		"file_type":      fileType,
	}
	switch fileType {
	case FileTypeSchedulingState:
		header["prayers"] = []any{}
		header["is_globally_active"] = false
		header["pending_sessions"] = []any{}
	case FileTypeTimers:
		header["timers"] = []any{}
	}
	return header
}
