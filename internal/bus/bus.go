// Package bus implements the Shared-Frame Bus (C3): two independent
// mmap-backed ring regions (stimulus and camera) that publishers write
// frame payloads into, plus a non-blocking metadata side-channel carrying
// frame descriptors, plus the bus-owned "last stimulus timestamp" cell
// used to correlate camera frames with the stimulus generator without a
// wall-clock timestamp match. Grounded in the teacher's broadcaster
// drop-slow-subscriber pattern (server/dvr/dvr.go): metadata publication
// never blocks a writer on a slow subscriber.
package bus

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Descriptor is the fixed wire shape for one published frame, read by
// out-of-process consumers that cannot map shared memory directly.
type Descriptor struct {
	FrameID       uint64  `json:"frame_id"`
	TimestampUs   int64   `json:"timestamp_us"`
	FrameIndex    int32   `json:"frame_index"`
	Direction     string  `json:"direction"`
	AngleDegrees  float32 `json:"angle_degrees"`
	WidthPx       int32   `json:"width_px"`
	HeightPx      int32   `json:"height_px"`
	DataSizeBytes int32   `json:"data_size_bytes"`
	OffsetBytes   int64   `json:"offset_bytes"`
	TotalFrames   int32   `json:"total_frames"`
	StartAngle    float32 `json:"start_angle"`
	EndAngle      float32 `json:"end_angle"`
	ShmPath       string  `json:"shm_path"`
	Channels      int32   `json:"channels"`
}

// region is one independent mmap-backed write-only ring buffer.
type region struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	data       []byte
	capacity   int
	writeOffset int
}

func newRegion(path string, capacity int) (*region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("bus: open region %s: %w", path, err)
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		f.Close()
		return nil, fmt.Errorf("bus: truncate region %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bus: mmap region %s: %w", path, err)
	}
	return &region{path: path, file: f, data: data, capacity: capacity}, nil
}

// write copies payload into the ring at the next offset, wrapping to 0 if
// it would overrun the capacity, and returns the offset it was written at.
func (r *region) write(payload []byte) (offset int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(payload) > r.capacity {
		return 0, fmt.Errorf("bus: payload %d bytes exceeds region capacity %d", len(payload), r.capacity)
	}
	if r.writeOffset+len(payload) > r.capacity {
		r.writeOffset = 0
	}
	offset = r.writeOffset
	copy(r.data[offset:offset+len(payload)], payload)
	r.writeOffset += len(payload)
	return offset, nil
}

func (r *region) close() error {
	if err := unix.Munmap(r.data); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// lastStimulusTS is the bus-owned single cell correlating camera frames
// with the stimulus generator (§9 re-architecture cue: preserved as a
// pattern, expressed as an owned field with explicit set/get/clear
// instead of a global side-channel).
type lastStimulusTS struct {
	mu      sync.Mutex
	set     bool
	tsUs    int64
	frameID uint64
}

func (l *lastStimulusTS) Set(tsUs int64, frameID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set = true
	l.tsUs = tsUs
	l.frameID = frameID
}

func (l *lastStimulusTS) Get() (tsUs int64, frameID uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tsUs, l.frameID, l.set
}

func (l *lastStimulusTS) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set = false
	l.tsUs = 0
	l.frameID = 0
}

// Bus publishes stimulus and camera frames into two independently locked
// shared-memory regions; descriptors from both regions fan out to one
// shared list of metadata subscribers.
type Bus struct {
	stimulusRegion *region
	cameraRegion   *region

	lastStimulus lastStimulusTS

	mu          sync.Mutex
	subscribers []chan Descriptor
}

// Config selects the backing file paths and capacities for both regions.
type Config struct {
	StimulusPath     string
	StimulusCapacity int
	CameraPath       string
	CameraCapacity   int
}

// New creates both mmap regions. Each region lives in its own file so a
// write to one can never interleave with the other (§9: splitting a
// single shared-memory file into two regions fixes a latent bug).
func New(cfg Config) (*Bus, error) {
	stim, err := newRegion(cfg.StimulusPath, cfg.StimulusCapacity)
	if err != nil {
		return nil, err
	}
	cam, err := newRegion(cfg.CameraPath, cfg.CameraCapacity)
	if err != nil {
		stim.close()
		return nil, err
	}
	return &Bus{stimulusRegion: stim, cameraRegion: cam}, nil
}

// Close unmaps and closes both regions.
func (b *Bus) Close() error {
	err1 := b.stimulusRegion.close()
	err2 := b.cameraRegion.close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Subscribe registers a channel that receives every published Descriptor.
// The channel is buffered; a slow subscriber has descriptors dropped for
// it rather than blocking publication (mirrors the teacher's
// broadcaster.send non-blocking select/default drop).
func (b *Bus) Subscribe(buffer int) <-chan Descriptor {
	ch := make(chan Descriptor, buffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) publishMetadata(d Descriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- d:
		default:
			// Slow subscriber: drop rather than block the writer.
		}
	}
}

// PublishStimulus writes payload into the stimulus region and fans out
// its descriptor to subscribers.
func (b *Bus) PublishStimulus(payload []byte, d Descriptor) (Descriptor, error) {
	offset, err := b.stimulusRegion.write(payload)
	if err != nil {
		return Descriptor{}, err
	}
	d.OffsetBytes = int64(offset)
	d.DataSizeBytes = int32(len(payload))
	d.ShmPath = b.stimulusRegion.path
	b.publishMetadata(d)
	return d, nil
}

// PublishCamera writes payload into the camera region and fans out its
// descriptor to subscribers.
func (b *Bus) PublishCamera(payload []byte, d Descriptor) (Descriptor, error) {
	offset, err := b.cameraRegion.write(payload)
	if err != nil {
		return Descriptor{}, err
	}
	d.OffsetBytes = int64(offset)
	d.DataSizeBytes = int32(len(payload))
	d.ShmPath = b.cameraRegion.path
	b.publishMetadata(d)
	return d, nil
}

// SetLastStimulusTimestamp records the timestamp of the most recently
// published stimulus frame, for the camera loop to read back.
func (b *Bus) SetLastStimulusTimestamp(tsUs int64, frameID uint64) {
	b.lastStimulus.Set(tsUs, frameID)
}

// LastStimulusTimestamp returns the last recorded stimulus timestamp, if
// any has been set since the last Clear.
func (b *Bus) LastStimulusTimestamp() (tsUs int64, frameID uint64, ok bool) {
	return b.lastStimulus.Get()
}

// ClearLastStimulusTimestamp clears the cell. Mandatory on every
// phase-transition out of Stimulus, to prevent stale sync samples from
// leaking across phase gaps.
func (b *Bus) ClearLastStimulusTimestamp() {
	b.lastStimulus.Clear()
}
