// Package exclusions reads and writes the JSON file that tells the upgrade
// helper which packages to leave alone in the next transaction.
package exclusions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// File is the on-disk document.
type File struct {
	Exclusions []string `json:"exclusions"`
}

// Write stores names at path. Names are normalized (trimmed, deduplicated,
// sorted). The file is replaced atomically so the helper never reads a
// half-written document.
func Write(path string, names []string) error {
	doc := File{Exclusions: common.NormalizeNames(names)}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".exclusions-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}
	// Root reads it; others do not need to.
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}
	return nil
}

// Read loads the exclusion list. A missing file means nothing is excluded.
func Read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", common.ErrExclusionsRead, err)
	}

	var doc File
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrExclusionsRead, path, err)
	}
	return common.NormalizeNames(doc.Exclusions), nil
}

// Clear removes the file. Missing is fine.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", common.ErrExclusionsWrite, err)
	}
	return nil
}
