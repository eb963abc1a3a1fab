// Package setup handles sakina home initialization.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/templates"
)

// Result lists what Run wrote.
type Result struct {
	Home    string
	Written []string
	Kept    []string
}

// Run initializes a sakina home: the directory layout, config.yaml and a
// sample prayers.yaml. Existing files are kept unless force is set, so
// re-running setup never loses an edited timetable by accident.
func Run(home string, force bool) (Result, error) {
	absHome, err := filepath.Abs(home)
	if err != nil {
		return Result{}, fmt.Errorf("resolve home dir: %w", err)
	}
	res := Result{Home: absHome}

	paths := config.PathsFor(absHome, "")
	for _, d := range []string{paths.StateDir, paths.LocksDir, paths.LogsDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return res, fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	for _, name := range []string{"config.yaml", "prayers.yaml"} {
		dst := filepath.Join(absHome, name)
		written, err := copyTemplateFile(name, dst, force)
		if err != nil {
			return res, err
		}
		if written {
			res.Written = append(res.Written, dst)
		} else {
			res.Kept = append(res.Kept, dst)
		}
	}

	// Refuse to leave a home the daemon cannot start from.
	if _, err := config.Load(absHome); err != nil {
		return res, fmt.Errorf("validate config: %w", err)
	}
	if _, invalid, err := config.LoadPrayers(absHome); err != nil {
		return res, fmt.Errorf("validate prayers: %w", err)
	} else if len(invalid) > 0 {
		return res, fmt.Errorf("validate prayers: %w", errors.Join(invalid...))
	}
	return res, nil
}

func copyTemplateFile(name, dst string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(dst); err == nil {
			return false, nil
		}
	}
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return false, fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return false, fmt.Errorf("write %s: %w", dst, err)
	}
	return true, nil
}
