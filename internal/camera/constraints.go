package camera

// Constraints describes the stream the machine asks the provider for.
// The zero value means "whatever the device defaults to".
type Constraints struct {
	// FacingMode selects the camera direction ("user" = forward-facing).
	FacingMode string `json:"facingMode,omitempty"`

	// MaxWidth/MaxHeight cap the resolution. Face monitoring needs a stable
	// feed, not visual quality, so the ceilings stay modest to keep
	// bandwidth and CPU down on weak candidate hardware.
	MaxWidth  int `json:"maxWidth,omitempty"`
	MaxHeight int `json:"maxHeight,omitempty"`

	// MaxFrameRate caps the frame rate.
	MaxFrameRate int `json:"maxFrameRate,omitempty"`

	// Audio is always false for proctoring capture; the field exists so the
	// provider contract is explicit about it.
	Audio bool `json:"audio"`
}

// MonitoringConstraints is the first-choice request: forward camera, modest
// resolution and frame-rate ceilings, no audio.
func MonitoringConstraints() Constraints {
	return Constraints{
		FacingMode:   "user",
		MaxWidth:     640,
		MaxHeight:    480,
		MaxFrameRate: 15,
		Audio:        false,
	}
}

// FallbackConstraints is the minimal retry used when the device rejects the
// monitoring constraints: accept whatever the device offers rather than
// failing the session outright.
func FallbackConstraints() Constraints {
	return Constraints{}
}
