//go:build !cgo

package camera

// NewDefaultCamera falls back to the synthetic camera on a build without
// cgo (gocv requires cgo and OpenCV's C bindings), regardless of
// developmentMode — there is no real capture path to fall back to.
func NewDefaultCamera(developmentMode bool, deviceIndex int, widthPx, heightPx int) Camera {
	return NewSyntheticCamera(widthPx, heightPx, true)
}
