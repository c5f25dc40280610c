package camera

import (
	"context"
	"fmt"
)

// DeviceInfo describes an enumerated video input device.
type DeviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Stream is a live camera feed owned by exactly one component at a time.
// Stop releases the underlying media tracks. Implementations must tolerate
// Stop being called more than once; callers do not guard against
// double-release.
type Stream interface {
	Stop()
}

// MediaProvider is the device/browser media surface the machine drives.
// Implementations wrap whatever capture runtime hosts the session; tests
// use scripted fakes.
type MediaProvider interface {
	// EnumerateDevices lists video input devices without prompting.
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)

	// GetUserMedia acquires a stream matching the constraints. It may block
	// for arbitrarily long while the user decides on a permission prompt.
	// Failures must be reported as *AcquireError so the machine can map the
	// cause without matching on message text.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// PermissionQuerier is the optional native permission-state surface. Some
// capture runtimes cannot answer without prompting; a MediaProvider that can
// should also implement this interface, which the machine discovers by type
// assertion.
type PermissionQuerier interface {
	// QueryCameraPermission reads the current permission without prompting.
	QueryCameraPermission(ctx context.Context) (Permission, error)

	// WatchCameraPermission registers fn for future permission changes, so
	// external revocation is observed without an explicit re-check. The
	// returned cancel unregisters fn.
	WatchCameraPermission(fn func(Permission)) (cancel func(), err error)
}

// Permission is the three-valued result of a native permission query.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

// FailureCause is the closed taxonomy of stream-acquisition failures.
// Policy decisions key on the tag; message text is generated from it and
// never matched.
type FailureCause string

const (
	// CausePermissionDenied — the user or platform policy refused. Sticky;
	// only an explicit user action clears it.
	CausePermissionDenied FailureCause = "permission_denied"

	// CauseDeviceUnavailable — no camera hardware or media API present.
	CauseDeviceUnavailable FailureCause = "device_unavailable"

	// CauseResourceBusy — another process holds the camera. Retryable.
	CauseResourceBusy FailureCause = "resource_busy"

	// CauseConstraintUnsatisfiable — the device cannot satisfy the requested
	// constraints. The machine downgrades once before giving up.
	CauseConstraintUnsatisfiable FailureCause = "constraint_unsatisfiable"

	// CauseTransient — interrupted, insecure context, or anything
	// unclassified. Retryable.
	CauseTransient FailureCause = "transient"
)

// AcquireError is the typed failure a MediaProvider returns from
// GetUserMedia.
type AcquireError struct {
	Cause FailureCause
	// Detail is optional low-level context for logs; never used for
	// dispatch.
	Detail string
}

func (e *AcquireError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("camera acquire failed: %s", e.Cause)
	}
	return fmt.Sprintf("camera acquire failed: %s: %s", e.Cause, e.Detail)
}

// userMessage renders the candidate-facing explanation for a failure cause.
func userMessage(cause FailureCause) string {
	switch cause {
	case CausePermissionDenied:
		return "Camera access was denied. Allow camera access in your browser settings and retry."
	case CauseDeviceUnavailable:
		return "No camera was found on this device. A working camera is required for this exam."
	case CauseResourceBusy:
		return "The camera is in use by another application. Close it and retry."
	case CauseConstraintUnsatisfiable:
		return "Your camera does not support the requested video settings."
	default:
		return "Camera access failed unexpectedly. Retry, and check that this page is served securely."
	}
}
