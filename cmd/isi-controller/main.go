// Command isi-controller is the acquisition controller process: it wires
// together the phase machine, camera loop, shared-frame bus, recorder,
// and parameter store, then serves the IPC command/response loop over
// stdin/stdout until EOF or a fatal error, exiting 0 on clean shutdown and
// 1 on fatal exception (§6), mirroring the teacher's own
// signal.NotifyContext-based graceful shutdown in server/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/acquisition"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/camera"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/config"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/controller"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/errs"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/health"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/ipc"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/logging"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/playback"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/preview"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/recorder"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/state"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
	synctracker "github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/sync"
	"go.uber.org/zap"
)

func main() {
	defaultConfigPath := flag.String("config", "", "path to the default process config YAML")
	overrideConfigPath := flag.String("config-override", "./config.local.yaml", "path to an optional override process config YAML")
	paramPath := flag.String("parameters", "./parameters.json", "path to the parameter store JSON file")
	relayAddr := flag.String("relay-addr", "", "optional address to serve the secondary websocket event relay on, e.g. :8088")
	flag.Parse()

	if err := run(*defaultConfigPath, *overrideConfigPath, *paramPath, *relayAddr); err != nil {
		fmt.Fprintln(os.Stderr, "isi-controller:", err)
		os.Exit(1)
	}
}

func run(defaultConfigPath, overrideConfigPath, paramPath, relayAddr string) error {
	procCfg, err := config.LoadProcessConfig(defaultConfigPath, overrideConfigPath)
	if err != nil {
		return fmt.Errorf("load process config: %w", err)
	}

	log, err := logging.New(procCfg.DevelopmentMode)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	store, err := config.New(paramPath, config.DefaultSchemas())
	if err != nil {
		return fmt.Errorf("init parameter store: %w", err)
	}

	if err := os.MkdirAll(procCfg.SessionRoot, 0755); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}

	b, err := bus.New(bus.Config{
		StimulusPath:     procCfg.StimulusShmPath,
		StimulusCapacity: procCfg.StimulusShmBytes,
		CameraPath:       procCfg.CameraShmPath,
		CameraCapacity:   procCfg.CameraShmBytes,
	})
	if err != nil {
		return fmt.Errorf("init shared-frame bus: %w", err)
	}
	defer b.Close()

	tracker := synctracker.New(logging.Component(log, "sync"), synctracker.DefaultMaxHistory)
	coordinator := state.New(logging.Component(log, "state"))

	stimParams, err := store.StimulusGeneratorParams()
	if err != nil {
		return fmt.Errorf("load stimulus params: %w", err)
	}
	generator := stimulus.New(stimParams)
	ctl := controller.New(generator)
	pv := preview.New(generator, b)

	store.Subscribe(config.GroupMonitor, func([]string) { refreshGenerator(store, generator, log) })
	store.Subscribe(config.GroupStimulus, func([]string) { refreshGenerator(store, generator, log) })

	camParamsRaw, err := store.GetGroup(config.GroupCamera)
	if err != nil {
		return fmt.Errorf("load camera params: %w", err)
	}
	camWidth, _ := camParamsRaw["width_px"].(int)
	camHeight, _ := camParamsRaw["height_px"].(int)
	if camWidth == 0 {
		camWidth = 640
	}
	if camHeight == 0 {
		camHeight = 480
	}
	deviceIndex, _ := camParamsRaw["device_index"].(int)

	cam := camera.NewDefaultCamera(procCfg.DevelopmentMode, deviceIndex, camWidth, camHeight)
	loop := camera.NewLoop(camera.Config{
		Camera:          cam,
		Bus:             b,
		Tracker:         tracker,
		Log:             logging.Component(log, "camera"),
		DevelopmentMode: procCfg.DevelopmentMode,
	})

	server := ipc.NewServer(os.Stdout, logging.Component(log, "ipc"))
	if relayAddr != "" {
		relay := ipc.NewWebsocketHub(logging.Component(log, "ipc-relay"))
		server.SetRelay(relay)
		mux := http.NewServeMux()
		mux.Handle("/events", relay)
		go func() {
			if err := http.ListenAndServe(relayAddr, mux); err != nil {
				log.Warn("websocket relay stopped", zap.Error(err))
			}
		}()
	}

	diskPath := filepath.Dir(procCfg.SessionRoot)
	healthCollector := health.NewCollector(diskPath, 2*time.Second, readinessAdapter{loop: loop, coordinator: coordinator})

	registerCommands(server, registerDeps{
		store: store, bus: b, controller: ctl, previewer: pv, generator: generator,
		coordinator: coordinator, cameraLoop: loop, health: healthCollector,
		sessionRoot: procCfg.SessionRoot, cameraW: camWidth, cameraH: camHeight,
		log: log, runner: &acquisitionRunner{}, playback: &playbackRunner{},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		log.Info("isi-controller: shutdown signal received")
	}()

	return server.Serve(os.Stdin)
}

type readinessAdapter struct {
	loop        *camera.Loop
	coordinator *state.Coordinator
}

func (r readinessAdapter) CameraOpen() bool    { return r.loop != nil }
func (r readinessAdapter) SessionLoaded() bool { return r.coordinator.Snapshot().SessionName != "" }
func (r readinessAdapter) AcquisitionBusy() bool {
	return r.coordinator.Mode() == model.ModeRecording
}

func refreshGenerator(store *config.Store, generator *stimulus.Generator, log *zap.Logger) {
	params, err := store.StimulusGeneratorParams()
	if err != nil {
		log.Warn("refresh stimulus params failed", zap.Error(err))
		return
	}
	generator.SetParams(params)
}

// registerDeps bundles every collaborator the IPC command handlers close
// over, built once in run and threaded through registerCommands.
type registerDeps struct {
	store       *config.Store
	bus         *bus.Bus
	controller  *controller.Controller
	previewer   *preview.Previewer
	generator   *stimulus.Generator
	coordinator *state.Coordinator
	cameraLoop  *camera.Loop
	health      *health.Collector
	sessionRoot string
	cameraW     int
	cameraH     int
	log         *zap.Logger

	runner   *acquisitionRunner
	playback *playbackRunner
}

// playbackRunner owns the currently loaded (but not necessarily playing)
// session, so get_session_data and get_playback_frame can serve a session
// that load_session opened without re-reading it from disk each call.
type playbackRunner struct {
	mu      sync.Mutex
	session *playback.Session
	player  *playback.Player
	cancel  context.CancelFunc
}

func (r *playbackRunner) load(path string) (*playback.Session, error) {
	sess, err := playback.Load(path, func(p string) (playback.Reader, error) {
		return playback.OpenHDF5Reader(p)
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.Reader.Close()
	}
	r.session = sess
	return sess, nil
}

func (r *playbackRunner) current() (*playback.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, errs.Precondition("no session is loaded")
	}
	return r.session, nil
}

// acquisitionRunner owns the single in-flight acquisition Machine, if
// any — start_acquisition refuses a second run while one is active,
// stop_acquisition calls RequestStop on whichever is current.
type acquisitionRunner struct {
	mu      sync.Mutex
	current *acquisition.Machine
}

func (r *acquisitionRunner) tryStart(m *acquisition.Machine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return errs.Precondition("acquisition already running")
	}
	r.current = m
	return nil
}

func (r *acquisitionRunner) finish() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

func (r *acquisitionRunner) stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return errs.Precondition("no acquisition is running")
	}
	r.current.RequestStop()
	return nil
}

func registerCommands(s *ipc.Server, d registerDeps) {
	s.Register("ping", func(json.RawMessage) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})

	s.Register("get_system_health", func(params json.RawMessage) (any, error) {
		var req struct {
			UseCache       bool `json:"use_cache"`
			IncludeDetails bool `json:"include_details"`
		}
		_ = json.Unmarshal(params, &req)
		return d.health.Collect(req.UseCache, req.IncludeDetails)
	})

	s.Register("get_acquisition_status", func(json.RawMessage) (any, error) {
		return d.coordinator.Snapshot(), nil
	})

	s.Register("get_all_parameters", func(json.RawMessage) (any, error) {
		return d.store.GetAll(), nil
	})

	s.Register("get_parameter_group", func(params json.RawMessage) (any, error) {
		var req struct {
			Group config.Group `json:"group"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("malformed get_parameter_group request: %v", err)
		}
		return d.store.GetGroup(req.Group)
	})

	s.Register("update_parameter_group", func(params json.RawMessage) (any, error) {
		var req struct {
			Group      config.Group   `json:"group"`
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("malformed update_parameter_group request: %v", err)
		}
		changed, err := d.store.UpdateGroup(req.Group, req.Parameters)
		if err != nil {
			return nil, errs.Validation("%v", err)
		}
		s.Publish("parameter_group_updated", map[string]any{"group": req.Group, "changed_keys": changed})
		return map[string]any{"changed_keys": changed}, nil
	})

	s.Register("reset_to_defaults", func(params json.RawMessage) (any, error) {
		var req struct {
			Group config.Group `json:"group"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("malformed reset_to_defaults request: %v", err)
		}
		if req.Group == "" {
			for _, g := range config.AllGroups {
				if err := d.store.ResetToDefaults(g); err != nil {
					return nil, errs.Validation("%v", err)
				}
			}
			return nil, nil
		}
		if err := d.store.ResetToDefaults(req.Group); err != nil {
			return nil, errs.Validation("%v", err)
		}
		return nil, nil
	})

	s.Register("get_parameter_info", func(params json.RawMessage) (any, error) {
		var req struct {
			Group config.Group `json:"group"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("malformed get_parameter_info request: %v", err)
		}
		return d.store.ParameterInfo(req.Group)
	})

	s.Register("list_sessions", func(json.RawMessage) (any, error) {
		return playback.ListSessions(d.sessionRoot)
	})

	s.Register("display_black_screen", func(params json.RawMessage) (any, error) {
		var req struct {
			WidthPx  int `json:"width_px,omitempty"`
			HeightPx int `json:"height_px,omitempty"`
		}
		_ = json.Unmarshal(params, &req)
		if req.WidthPx == 0 {
			req.WidthPx = 640
		}
		if req.HeightPx == 0 {
			req.HeightPx = 480
		}
		desc, err := d.previewer.BlackScreen(req.WidthPx, req.HeightPx)
		if err != nil {
			return nil, errs.Hardware(err, "publish black screen")
		}
		return desc, nil
	})

	s.Register("get_stimulus_frame", func(params json.RawMessage) (any, error) {
		var req struct {
			Direction    model.Direction `json:"direction"`
			FrameIndex   int             `json:"frame_index"`
			TotalFrames  int             `json:"total_frames"`
			ShowBarMask  bool            `json:"show_bar_mask"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("malformed get_stimulus_frame request: %v", err)
		}
		desc, err := d.previewer.ShowFrame(req.Direction, req.FrameIndex, req.TotalFrames, req.ShowBarMask)
		if err != nil {
			return nil, errs.Validation("%v", err)
		}
		return desc, nil
	})

	s.Register("start_acquisition", func(params json.RawMessage) (any, error) {
		var req struct {
			SessionName string `json:"session_name"`
		}
		if err := json.Unmarshal(params, &req); err != nil || req.SessionName == "" {
			return nil, errs.Validation("start_acquisition requires a non-empty session_name")
		}
		if !d.coordinator.TransitionTo(model.ModeRecording) {
			return nil, errs.Precondition("cannot start acquisition from mode %s", d.coordinator.Mode())
		}

		acqParams, err := d.store.AcquisitionParams()
		if err != nil {
			d.coordinator.TransitionTo(model.ModeIdle)
			return nil, errs.Validation("%v", err)
		}
		stimParams, err := d.store.StimulusGeneratorParams()
		if err != nil {
			d.coordinator.TransitionTo(model.ModeIdle)
			return nil, errs.Validation("%v", err)
		}

		sessionDir := filepath.Join(d.sessionRoot, req.SessionName)
		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			d.coordinator.TransitionTo(model.ModeIdle)
			return nil, errs.IO(err, "create session directory")
		}

		sessionVals, _ := d.store.GetGroup(config.GroupSession)
		var sess config.SessionParams
		sessJSON, _ := json.Marshal(sessionVals)
		_ = json.Unmarshal(sessJSON, &sess)

		meta := recorder.SessionMetadata{
			SessionName: req.SessionName,
			AnimalID:    sess.AnimalID,
			AnimalAge:   sess.AnimalAge,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Acquisition: acqParams,
		}
		rec := recorder.New(recorder.NewHDF5Writer(4), sessionDir, meta)

		d.coordinator.SetSessionName(req.SessionName)
		d.coordinator.SetAcquisitionRunning(true)

		machine := acquisition.New(acquisition.Config{
			Controller: d.controller,
			Recorder:   rec,
			CameraLoop: d.cameraLoop,
			Bus:        d.bus,
			Previewer:  d.previewer,
			Log:        d.log,
			BaselineW:  camBaselineDim(stimParams.MonitorWidthPx),
			BaselineH:  camBaselineDim(stimParams.MonitorHeightPx),
			OnEvent: func(e acquisition.Event) {
				s.Publish("acquisition_progress", e)
			},
		})

		if err := d.runner.tryStart(machine); err != nil {
			d.coordinator.TransitionTo(model.ModeIdle)
			return nil, err
		}

		stimFileParams := func(model.Direction) recorder.StimulusFileParams {
			return recorder.StimulusFileParams{
				MonitorWidthPx:    stimParams.MonitorWidthPx,
				MonitorHeightPx:   stimParams.MonitorHeightPx,
				MonitorWidthCm:    stimParams.MonitorWidthCm,
				MonitorHeightCm:   stimParams.MonitorHeightCm,
				MonitorDistanceCm: stimParams.MonitorDistanceCm,
			}
		}
		camFileParams := func(model.Direction) recorder.CameraFileParams {
			return recorder.CameraFileParams{
				WidthPx:  d.cameraW,
				HeightPx: d.cameraH,
				FPS:      acqParams.CameraFPS,
			}
		}

		go func() {
			defer d.runner.finish()
			defer d.coordinator.SetAcquisitionRunning(false)
			defer d.coordinator.TransitionTo(model.ModeIdle)

			if err := d.cameraLoop.Start(acqParams.CameraFPS, true, func(err error) {
				d.log.Error("camera loop fatal error during recording", zap.Error(err))
			}); err != nil {
				d.log.Error("camera loop failed to start", zap.Error(err))
				return
			}
			defer d.cameraLoop.Stop()

			if _, err := machine.Run(acqParams, stimParams); err != nil {
				d.log.Error("acquisition run failed", zap.Error(err))
				if finalizeErr := rec.Finalize(stimFileParams, camFileParams); finalizeErr != nil {
					d.log.Error("recorder finalize failed", zap.Error(finalizeErr))
				}
				return
			}
			if err := rec.Finalize(stimFileParams, camFileParams); err != nil {
				d.log.Error("recorder finalize failed", zap.Error(err))
			}
		}()

		return map[string]string{"session_name": req.SessionName}, nil
	})

	s.Register("stop_acquisition", func(json.RawMessage) (any, error) {
		if err := d.runner.stop(); err != nil {
			return nil, err
		}
		return nil, nil
	})

	s.Register("set_acquisition_mode", func(params json.RawMessage) (any, error) {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("set_acquisition_mode: %v", err)
		}
		target := model.Mode(req.Mode)
		if !d.coordinator.TransitionTo(target) {
			return nil, errs.Precondition("cannot transition from %s to %s", d.coordinator.Mode(), target)
		}
		return d.coordinator.Snapshot(), nil
	})

	s.Register("load_session", func(params json.RawMessage) (any, error) {
		var req struct {
			SessionName string `json:"session_name"`
		}
		if err := json.Unmarshal(params, &req); err != nil || req.SessionName == "" {
			return nil, errs.Validation("load_session requires a non-empty session_name")
		}
		sess, err := d.playback.load(filepath.Join(d.sessionRoot, req.SessionName))
		if err != nil {
			return nil, errs.IO(err, "load session %s", req.SessionName)
		}
		return sess.Meta, nil
	})

	s.Register("get_session_data", func(json.RawMessage) (any, error) {
		sess, err := d.playback.current()
		if err != nil {
			return nil, err
		}
		return sess.Meta, nil
	})

	s.Register("get_playback_frame", func(params json.RawMessage) (any, error) {
		var req struct {
			Direction  string `json:"direction"`
			FrameIndex int    `json:"frame_index"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errs.Validation("get_playback_frame: %v", err)
		}
		sess, err := d.playback.current()
		if err != nil {
			return nil, err
		}
		frame, err := sess.Reader.CameraFrame(model.Direction(req.Direction), req.FrameIndex)
		if err != nil {
			return nil, errs.IO(err, "read playback frame %s[%d]", req.Direction, req.FrameIndex)
		}
		desc := bus.Descriptor{
			FrameIndex:  int32(req.FrameIndex),
			Direction:   req.Direction,
			WidthPx:     int32(frame.Width),
			HeightPx:    int32(frame.Height),
			Channels:    int32(frame.Channels),
		}
		if _, err := d.bus.PublishCamera(frame.Pixels, desc); err != nil {
			return nil, errs.Hardware(err, "publish playback frame")
		}
		return desc, nil
	})
}

// camBaselineDim picks a small but non-zero baseline preview dimension
// bounded by the monitor's actual size, so publishBaseline never tries to
// allocate a frame larger than the configured display.
func camBaselineDim(monitorDim int) int {
	if monitorDim <= 0 || monitorDim > 64 {
		return 64
	}
	return monitorDim
}
