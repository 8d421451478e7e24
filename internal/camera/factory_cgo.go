//go:build cgo

package camera

// NewDefaultCamera returns a real V4L2/gocv-backed camera in production,
// or a synthetic one in development mode (so a development run never
// needs hardware attached).
func NewDefaultCamera(developmentMode bool, deviceIndex int, widthPx, heightPx int) Camera {
	if developmentMode {
		return NewSyntheticCamera(widthPx, heightPx, true)
	}
	return NewGocvCamera(deviceIndex)
}
