// Package yaml provides atomic YAML file I/O and quarantine utilities for
// sakina's durable state files.
package yaml

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// ErrCorrupt marks a file that exists but cannot be decoded or fails its
// schema header check.
var ErrCorrupt = errors.New("corrupt state file")

// AtomicWrite marshals data and replaces path with it, keeping the previous
// contents as path.bak.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw writes content to a temp file in the target directory,
// re-reads and validates it, snapshots the current file to .bak and renames
// the temp file into place. A crash at any step leaves either the old file
// or the new one, never a torn write.
func AtomicWriteRaw(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sakina-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", err)
	}
	if err := validateYAML(written); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// Load decodes path into v. When fileType is non-empty the schema header must
// match it. A missing file returns an error wrapping fs.ErrNotExist; anything
// undecodable returns an error wrapping ErrCorrupt.
func Load(path, fileType string, v any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if fileType != "" {
		if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
	}
	if err := yamlv3.Unmarshal(content, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// LoadOrRecover is Load plus the recovery ladder for corrupt files:
// quarantine, restore from .bak, else regenerate a skeleton, then decode again.
// A missing file is returned as-is.
func LoadOrRecover(homeDir, path, fileType string, v any) (Recovery, error) {
	err := Load(path, fileType, v)
	if err == nil || !errors.Is(err, ErrCorrupt) {
		return NotRecovered, err
	}
	how, rerr := RecoverCorruptedFile(homeDir, path, fileType)
	if rerr != nil {
		return NotRecovered, fmt.Errorf("recover %s: %w", path, rerr)
	}
	return how, Load(path, fileType, v)
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
