package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// fileFormat is the on-disk shape of the parameter file: current values
// per group plus each group's defaults written alongside them. load reads
// back only the current section; ResetToDefaults restores the defaults the
// Store was constructed with.
type fileFormat struct {
	Current  map[Group]map[string]any `json:"current"`
	Defaults map[Group]map[string]any `json:"default"`
}

// persist serializes every group's current and default values to s.path,
// rotating any existing file to path+".backup" first — the same
// temp-file-then-rename idiom used for session artifacts, so a crash
// mid-write never corrupts the previous, known-good parameter file.
func (s *Store) persist() error {
	ff := fileFormat{
		Current:  make(map[Group]map[string]any, len(s.groups)),
		Defaults: make(map[Group]map[string]any, len(s.groups)),
	}
	for g, e := range s.groups {
		e.mu.RLock()
		ff.Current[g] = cloneMap(e.current)
		ff.Defaults[g] = cloneMap(e.defaultVal)
		e.mu.RUnlock()
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}

	if _, err := os.Stat(s.path); err == nil {
		_ = os.Rename(s.path, s.path+".backup")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".parameters-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// load reads s.path and overlays its current values onto each group,
// validating each group against its schema before accepting it — a
// corrupt or stale-schema parameter file never silently replaces a
// group's defaults with invalid data.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return err
	}
	for g, values := range ff.Current {
		e, ok := s.groups[g]
		if !ok {
			continue
		}
		if err := validateAgainstSchema(s.validate, e.schemaType, values); err != nil {
			continue
		}
		e.mu.Lock()
		e.current = cloneMap(values)
		e.mu.Unlock()
	}
	return nil
}
