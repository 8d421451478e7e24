package config

import (
	"encoding/json"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
)

// SessionParams identifies the subject and session being acquired.
type SessionParams struct {
	AnimalID  string `json:"animal_id" validate:"required"`
	AnimalAge string `json:"animal_age"`
	Notes     string `json:"notes"`
}

// MonitorParams describes the physical display geometry, shared by the
// stimulus generator and the preview/playback renderers.
type MonitorParams struct {
	WidthPx    int     `json:"width_px" validate:"gt=0"`
	HeightPx   int     `json:"height_px" validate:"gt=0"`
	WidthCm    float64 `json:"width_cm" validate:"gt=0"`
	HeightCm   float64 `json:"height_cm" validate:"gt=0"`
	DistanceCm float64 `json:"distance_cm" validate:"gt=0"`
	RefreshHz  float64 `json:"refresh_hz" validate:"gt=0"`
}

// StimulusParams controls the drifting-bar sweep shape and flicker.
type StimulusParams struct {
	FovHalfDeg          float64 `json:"fov_half_deg" validate:"gt=0"`
	BarWidthDeg         float64 `json:"bar_width_deg" validate:"gt=0"`
	CheckerSizeDeg      float64 `json:"checker_size_deg" validate:"gt=0"`
	DriftSpeedDegPerSec float64 `json:"drift_speed_deg_per_sec" validate:"gt=0"`
	FlickerHz           float64 `json:"flicker_hz" validate:"gt=0"`
}

// CameraParams controls capture device selection and frame geometry.
type CameraParams struct {
	DeviceIndex int     `json:"device_index" validate:"gte=0"`
	FPS         float64 `json:"fps" validate:"gt=0"`
	WidthPx     int     `json:"width_px" validate:"gt=0"`
	HeightPx    int     `json:"height_px" validate:"gt=0"`
}

// AnalysisParams controls the Fourier retinotopy analysis pass.
type AnalysisParams struct {
	FFTWindow      int     `json:"fft_window" validate:"gt=0"`
	MagnitudeFloor float64 `json:"magnitude_floor" validate:"gte=0"`
}

// DefaultSchemas returns the six group schemas with their Go-level
// defaults, the basis for constructing a fresh Store.
func DefaultSchemas() []Schema {
	return []Schema{
		{
			Group: GroupSession,
			Type:  SessionParams{},
			Default: map[string]any{
				"animal_id":  "unspecified",
				"animal_age": "",
				"notes":      "",
			},
		},
		{
			Group: GroupMonitor,
			Type:  MonitorParams{},
			Default: map[string]any{
				"width_px": 1920, "height_px": 1080,
				"width_cm": 60.0, "height_cm": 34.0,
				"distance_cm": 20.0, "refresh_hz": 60.0,
			},
		},
		{
			Group: GroupStimulus,
			Type:  StimulusParams{},
			Default: map[string]any{
				"fov_half_deg": 60.0, "bar_width_deg": 20.0,
				"checker_size_deg": 25.0, "drift_speed_deg_per_sec": 9.0,
				"flicker_hz": 6.0,
			},
		},
		{
			Group: GroupCamera,
			Type:  CameraParams{},
			Default: map[string]any{
				"device_index": 0, "fps": 30.0,
				"width_px": 640, "height_px": 480,
			},
		},
		{
			Group: GroupAcquisition,
			Type:  model.AcquisitionParams{},
			Default: map[string]any{
				"baseline_sec": 5.0, "between_sec": 2.0, "cycles": 10,
				"directions": []string{"LR", "RL", "TB", "BT"}, "camera_fps": 30.0,
			},
		},
		{
			Group: GroupAnalysis,
			Type:  AnalysisParams{},
			Default: map[string]any{
				"fft_window": 1, "magnitude_floor": 0.0,
			},
		},
	}
}

// decodeGroup marshal/unmarshals a group's current map into dst, reusing
// the same JSON round-trip the validator runs updates through.
func decodeGroup(values map[string]any, dst any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// StimulusGeneratorParams builds the stimulus package's Params from the
// current monitor and stimulus groups, plus the camera group's FPS — the
// single point where the Parameter Store's flat maps become the typed
// value the generator caches against (§4.11: C4 subscribes to monitor and
// stimulus and recomputes on either changing).
func (s *Store) StimulusGeneratorParams() (stimulus.Params, error) {
	monitorVals, err := s.GetGroup(GroupMonitor)
	if err != nil {
		return stimulus.Params{}, err
	}
	stimVals, err := s.GetGroup(GroupStimulus)
	if err != nil {
		return stimulus.Params{}, err
	}
	cameraVals, err := s.GetGroup(GroupCamera)
	if err != nil {
		return stimulus.Params{}, err
	}

	var monitor MonitorParams
	var stim StimulusParams
	var cam CameraParams
	if err := decodeGroup(monitorVals, &monitor); err != nil {
		return stimulus.Params{}, err
	}
	if err := decodeGroup(stimVals, &stim); err != nil {
		return stimulus.Params{}, err
	}
	if err := decodeGroup(cameraVals, &cam); err != nil {
		return stimulus.Params{}, err
	}

	return stimulus.Params{
		MonitorWidthPx:      monitor.WidthPx,
		MonitorHeightPx:     monitor.HeightPx,
		MonitorWidthCm:      monitor.WidthCm,
		MonitorHeightCm:     monitor.HeightCm,
		MonitorDistanceCm:   monitor.DistanceCm,
		FovHalfDeg:          stim.FovHalfDeg,
		BarWidthDeg:         stim.BarWidthDeg,
		CheckerSizeDeg:      stim.CheckerSizeDeg,
		DriftSpeedDegPerSec: stim.DriftSpeedDegPerSec,
		FlickerHz:           stim.FlickerHz,
		CameraFPS:           cam.FPS,
	}, nil
}

// AcquisitionParams decodes the acquisition group into model.AcquisitionParams.
func (s *Store) AcquisitionParams() (model.AcquisitionParams, error) {
	values, err := s.GetGroup(GroupAcquisition)
	if err != nil {
		return model.AcquisitionParams{}, err
	}
	var p model.AcquisitionParams
	if err := decodeGroup(values, &p); err != nil {
		return model.AcquisitionParams{}, err
	}
	return p, p.Validate()
}
