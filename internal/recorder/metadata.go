package recorder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
)

// TimestampInfo records the provenance fields metadata.json must carry
// (§4.8): which clock backed each stream's timestamps, and how they were
// correlated.
type TimestampInfo struct {
	CameraTimestampSource   model.TimestampSource `json:"camera_timestamp_source"`
	StimulusTimestampSource string                `json:"stimulus_timestamp_source"`
	SynchronizationMethod   string                `json:"synchronization_method"`
}

// SessionMetadata is the full metadata.json document.
type SessionMetadata struct {
	SessionName string                 `json:"session_name"`
	AnimalID    string                 `json:"animal_id"`
	AnimalAge   string                 `json:"animal_age"`
	Timestamp   string                 `json:"timestamp"`
	Acquisition model.AcquisitionParams `json:"acquisition"`
	Camera      map[string]any         `json:"camera"`
	Monitor     map[string]any         `json:"monitor"`
	Stimulus    map[string]any         `json:"stimulus"`
	TimestampInfo TimestampInfo        `json:"timestamp_info"`
	Checksums   map[string]uint16      `json:"checksums,omitempty"`
}

// writeAtomic writes data to path via a same-directory temp file followed
// by os.Rename, so a crash mid-write never leaves a half-written file at
// path. If an existing file is present at path, it is rotated to
// path+".backup" first (generalizing the teacher's numbered log-backup
// rotation to a single-slot rotation, since session metadata has no
// numbered history).
func writeAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".backup"); err != nil {
			return fmt.Errorf("recorder: rotate backup of %s: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("recorder: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("recorder: write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("recorder: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("recorder: rename temp file onto %s: %w", path, err)
	}
	return nil
}

// WriteMetadata marshals meta as indented JSON and commits it atomically.
func (w *HDF5Writer) WriteMetadata(dir string, meta SessionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("recorder: marshal metadata: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "metadata.json"), data)
}

// WriteEventsJSON marshals a direction's events array and commits it
// atomically to {D}_events.json.
func (w *HDF5Writer) WriteEventsJSON(dir string, direction model.Direction, events []StimulusEvent) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("recorder: marshal events for %s: %w", direction, err)
	}
	return writeAtomic(filepath.Join(dir, fmt.Sprintf("%s_events.json", direction)), data)
}

// npyMagic is the 6-byte NumPy format magic string.
var npyMagic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// WriteAnatomical writes a 2D array as a minimal .npy file (version 1.0,
// C order), the format playback/analysis expects for anatomical.npy.
// bitDepth must be 8 or 16.
func (w *HDF5Writer) WriteAnatomical(dir string, data []byte, width, height, bitDepth int) error {
	var dtype string
	switch bitDepth {
	case 8:
		dtype = "|u1"
	case 16:
		dtype = "<u2"
	default:
		return fmt.Errorf("recorder: anatomical.npy: unsupported bit depth %d", bitDepth)
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }", dtype, height, width)
	// Pad the header so magic+version+headerlen+header is a multiple of 64.
	const preludeLen = 10 // magic(6) + version(2) + headerlen(2)
	padded := preludeLen + len(header) + 1
	if rem := padded % 64; rem != 0 {
		header += string(make([]byte, 64-rem-1+1))
	}
	header = header[:len(header)-1] + "\n"
	for len(header)%16 != 0 && (preludeLen+len(header))%64 != 0 {
		header += " "
	}

	buf := make([]byte, 0, preludeLen+len(header)+len(data))
	buf = append(buf, npyMagic...)
	buf = append(buf, 0x01, 0x00)
	hlen := make([]byte, 2)
	binary.LittleEndian.PutUint16(hlen, uint16(len(header)))
	buf = append(buf, hlen...)
	buf = append(buf, []byte(header)...)
	buf = append(buf, data...)

	return writeAtomic(filepath.Join(dir, "anatomical.npy"), buf)
}
