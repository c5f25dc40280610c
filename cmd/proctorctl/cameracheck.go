package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/examtrust/proctor/internal/camera"
)

// cameraScenarios maps --scenario values to scripted provider behavior, so
// support staff can walk through every acquisition outcome a candidate may
// hit and see the exact message shown for it.
var cameraScenarios = map[string]func() *scriptedProvider{
	"ok":          func() *scriptedProvider { return &scriptedProvider{} },
	"denied":      func() *scriptedProvider { return &scriptedProvider{acquireCause: camera.CausePermissionDenied} },
	"busy":        func() *scriptedProvider { return &scriptedProvider{acquireCause: camera.CauseResourceBusy} },
	"no-camera":   func() *scriptedProvider { return &scriptedProvider{noDevices: true} },
	"constrained": func() *scriptedProvider { return &scriptedProvider{rejectMonitoring: true} },
}

var cameraScenario string

var cameraCheckCmd = &cobra.Command{
	Use:   "camera-check",
	Short: "Walk the camera acquisition flow against a simulated device",
	Long: `Camera-check runs the camera permission state machine against a
simulated media device and prints every state transition, including the
candidate-facing message for failures.

Scenarios: ok, denied, busy, no-camera, constrained.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mkProvider, ok := cameraScenarios[cameraScenario]
		if !ok {
			return fmt.Errorf("unknown scenario %q", cameraScenario)
		}
		provider := mkProvider()

		m := camera.New(provider, nil)
		defer m.Close()
		unsub := m.Subscribe(func(st camera.State) {
			if st.Checking || st.Requesting {
				return
			}
			line := fmt.Sprintf("  -> %s", st.Status)
			if st.Device != nil {
				line += fmt.Sprintf("  (device: %s)", st.Device.Label)
			}
			fmt.Println(line)
			if st.Err != "" {
				fmt.Printf("     %q\n", st.Err)
			}
		})
		defer unsub()

		ctx := context.Background()
		fmt.Println("checking permission...")
		m.CheckPermission(ctx)

		fmt.Println("requesting stream...")
		status := m.RequestPermission(ctx)

		if status == camera.StatusGranted {
			fmt.Printf("stream acquired after %d attempt(s)\n", provider.acquisitions)
			m.StopStream()
			return nil
		}
		return fmt.Errorf("acquisition ended in status %q", status)
	},
}

func init() {
	cameraCheckCmd.Flags().StringVar(&cameraScenario, "scenario", "ok", "Simulated device behavior: ok, denied, busy, no-camera, constrained")
	rootCmd.AddCommand(cameraCheckCmd)
}

// scriptedProvider simulates the candidate's media surface.
type scriptedProvider struct {
	noDevices        bool
	acquireCause     camera.FailureCause
	rejectMonitoring bool
	acquisitions     int
}

func (p *scriptedProvider) EnumerateDevices(_ context.Context) ([]camera.DeviceInfo, error) {
	if p.noDevices {
		return nil, nil
	}
	return []camera.DeviceInfo{{ID: "sim-0", Label: "Simulated Webcam"}}, nil
}

func (p *scriptedProvider) GetUserMedia(_ context.Context, c camera.Constraints) (camera.Stream, error) {
	p.acquisitions++
	if p.acquireCause != "" {
		return nil, &camera.AcquireError{Cause: p.acquireCause}
	}
	if p.rejectMonitoring && c.MaxWidth > 0 {
		return nil, &camera.AcquireError{Cause: camera.CauseConstraintUnsatisfiable}
	}
	return &simStream{}, nil
}

type simStream struct{ stopped bool }

func (s *simStream) Stop() { s.stopped = true }
