// Package playback implements Playback Mode (C10): read-only replay of a
// recorded session, reopening its HDF5 files and republishing frames to the
// camera region of the bus at the session's original camera_fps. Session
// discovery (ListSessions) is grounded in the teacher's recordings-directory
// scan (server/dvr/api.go ListRecordings); the pacing loop is grounded in
// its screencast throttle (server/screencast.go runScreencastLoop), both
// generalized from their original single-purpose shapes.
package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/recorder"
	"go.uber.org/zap"
)

// SessionSummary describes one session directory found under a sessions
// root, the unit list_sessions returns.
type SessionSummary struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Timestamp string   `json:"timestamp"`
	Directions []string `json:"directions"`
}

// ListSessions scans root for subdirectories containing a metadata.json,
// sorted by name descending (newest first, assuming timestamp-prefixed
// names) mirroring the teacher's date-descending recording listing.
func ListSessions(root string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []SessionSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("playback: list sessions: %w", err)
	}

	var out []SessionSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		metaPath := filepath.Join(dir, "metadata.json")
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta recorder.SessionMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		out = append(out, SessionSummary{
			Name:       e.Name(),
			Path:       dir,
			Timestamp:  meta.Timestamp,
			Directions: directionsPresent(dir),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func directionsPresent(dir string) []string {
	var found []string
	for _, d := range model.AllDirections {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%s_camera.h5", d))); err == nil {
			found = append(found, string(d))
		}
	}
	return found
}

// Reader is the read-only access surface a loaded session exposes, so
// Player does not need to know about HDF5 directly. The real implementation
// (HDF5Reader) opens files read-only; tests substitute an in-memory fake.
type Reader interface {
	FrameCount(direction model.Direction) (int, error)
	CameraFrame(direction model.Direction, index int) (model.CameraFrame, error)
	Close() error
}

// Session is a validated, opened recording ready for playback.
type Session struct {
	Path   string
	Meta   recorder.SessionMetadata
	Reader Reader
}

// Load validates metadata.json and opens reader for sessionPath.
func Load(sessionPath string, openReader func(path string) (Reader, error)) (*Session, error) {
	raw, err := os.ReadFile(filepath.Join(sessionPath, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("playback: read metadata.json: %w", err)
	}
	var meta recorder.SessionMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("playback: parse metadata.json: %w", err)
	}
	if err := meta.Acquisition.Validate(); err != nil {
		return nil, fmt.Errorf("playback: invalid session metadata: %w", err)
	}

	reader, err := openReader(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("playback: open session: %w", err)
	}
	return &Session{Path: sessionPath, Meta: meta, Reader: reader}, nil
}

// Progress reports the sequence's current position, published as
// playback_progress events.
type Progress struct {
	Direction model.Direction
	Index     int
	Total     int
}

// Player replays a loaded Session's full protocol to the bus, one direction
// at a time, at the session's recorded camera_fps. It blocks manual
// direction switching while a sequence is running — the sequence is
// authoritative for the duration of Run.
type Player struct {
	session *Session
	bus     *bus.Bus
	log     *zap.Logger
}

// New constructs a Player for an already-loaded session.
func New(session *Session, b *bus.Bus, log *zap.Logger) *Player {
	return &Player{session: session, bus: b, log: log}
}

// Run replays every recorded direction in metadata order at 1/camera_fps,
// invoking onProgress after each frame. Frame
// publication failures are logged and do not abort the sequence (§4.10);
// ctx cancellation stops the sequence early.
func (p *Player) Run(ctx context.Context, onProgress func(Progress)) error {
	fps := p.session.Meta.Acquisition.CameraFPS
	if fps <= 0 {
		return fmt.Errorf("playback: session camera_fps must be > 0, got %v", fps)
	}
	interval := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, d := range p.session.Meta.Acquisition.Directions {
		n, err := p.session.Reader.FrameCount(d)
		if err != nil {
			if p.log != nil {
				p.log.Warn("playback: frame count unavailable, skipping direction", zap.String("direction", string(d)), zap.Error(err))
			}
			continue
		}

		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			frame, err := p.session.Reader.CameraFrame(d, i)
			if err != nil {
				if p.log != nil {
					p.log.Warn("playback: read frame failed, continuing", zap.String("direction", string(d)), zap.Int("index", i), zap.Error(err))
				}
				continue
			}

			desc := bus.Descriptor{
				FrameIndex:  int32(i),
				Direction:   string(d),
				TotalFrames: int32(n),
				WidthPx:     int32(frame.Width),
				HeightPx:    int32(frame.Height),
				Channels:    int32(frame.Channels),
			}
			if _, err := p.bus.PublishCamera(frame.Pixels, desc); err != nil && p.log != nil {
				p.log.Warn("playback: publish failed, continuing", zap.String("direction", string(d)), zap.Int("index", i), zap.Error(err))
			}

			if onProgress != nil {
				onProgress(Progress{Direction: d, Index: i, Total: n})
			}
		}
	}
	return nil
}

// Close releases the underlying reader.
func (p *Player) Close() error {
	return p.session.Reader.Close()
}
