// Package adaptertest provides implementation-agnostic conformance testing
// for robot and camera ports.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/pdu"
)

// Capabilities describes what the port under test is expected to do.
type Capabilities struct {
	// Name labels the report.
	Name string
	// RequireCancellation demands that a canceled context fails every call.
	RequireCancellation bool
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport represents the complete conformance test report.
type ConformanceReport struct {
	AdapterName   string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// RunConformance runs the robot port suite. newRobot must return a robot
// whose pose and height channels already hold data.
func RunConformance(t *testing.T, newRobot func() adapter.Robot, caps Capabilities) {
	startTime := time.Now()

	report := &ConformanceReport{
		AdapterName:   caps.Name,
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}
	if report.AdapterName == "" {
		report.AdapterName = "Unknown Robot"
	}

	runTelemetryTests(newRobot, report)
	runCommandRoundTripTests(newRobot, report)
	runReadModifyWriteTests(newRobot, report)
	if caps.RequireCancellation {
		runCancellationTests(newRobot, report)
	}
	runTimingTests(newRobot, report)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Robot conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

// RunCameraConformance runs the camera port suite against a camera named
// camera that has not been written yet.
func RunCameraConformance(t *testing.T, newCamera func() adapter.CameraPort, camera string) {
	startTime := time.Now()
	report := &ConformanceReport{AdapterName: "camera " + camera, OverallPassed: true}

	port := newCamera()
	ctx := context.Background()

	result := ConformanceResult{TestName: "Camera_UnwrittenReadsZero", Details: make(map[string]interface{})}
	start := time.Now()
	resp, err := port.ReadResponse(ctx, camera)
	result.Duration = time.Since(start)
	switch {
	case err != nil:
		result.Error = fmt.Sprintf("ReadResponse failed: %v", err)
	case resp.RequestID != 0:
		result.Error = fmt.Sprintf("unwritten response carries request id %d", resp.RequestID)
	default:
		result.Passed = true
	}
	report.addResult(result)

	result = ConformanceResult{TestName: "Camera_RequestAndAck", Details: make(map[string]interface{})}
	start = time.Now()
	req := pdu.CameraRequest{RequestID: 1, Header: pdu.CameraHeader{Request: 1}}
	err = port.WriteRequest(ctx, camera, req)
	if err == nil {
		req.Header.Request = 0
		err = port.WriteRequest(ctx, camera, req)
	}
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("WriteRequest failed: %v", err)
	} else {
		result.Passed = true
	}
	report.addResult(result)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Camera conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

func runTelemetryTests(newRobot func() adapter.Robot, report *ConformanceReport) {
	robot := newRobot()
	ctx := context.Background()

	result := ConformanceResult{TestName: "Telemetry_ReadPose", Details: make(map[string]interface{})}
	start := time.Now()
	pose, err := robot.ReadPose(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("ReadPose failed: %v", err)
	} else {
		result.Passed = true
		result.Details["x"] = pose.Position.X
		result.Details["y"] = pose.Position.Y
		result.Details["yawDeg"] = pose.YawDegrees()
	}
	report.addResult(result)

	result = ConformanceResult{TestName: "Telemetry_ReadHeight", Details: make(map[string]interface{})}
	start = time.Now()
	height, err := robot.ReadHeight(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("ReadHeight failed: %v", err)
	} else {
		result.Passed = true
		result.Details["height"] = height
	}
	report.addResult(result)
}

func runCommandRoundTripTests(newRobot func() adapter.Robot, report *ConformanceReport) {
	robot := newRobot()
	ctx := context.Background()

	result := ConformanceResult{TestName: "Command_RoundTrip", Details: make(map[string]interface{})}
	start := time.Now()

	var cmd pdu.ActuatorCommand
	cmd.SetAxis(pdu.AxisYaw, -0.25)
	cmd.SetAxis(pdu.AxisForward, 0.5)
	cmd.SetButton(3, true)

	err := robot.WriteCommand(ctx, cmd)
	var got pdu.ActuatorCommand
	if err == nil {
		got, err = robot.ReadCommand(ctx)
	}
	result.Duration = time.Since(start)

	switch {
	case err != nil:
		result.Error = fmt.Sprintf("command round trip failed: %v", err)
	case got != cmd:
		result.Error = fmt.Sprintf("read back %+v, wrote %+v", got, cmd)
	default:
		result.Passed = true
	}
	report.addResult(result)
}

func runReadModifyWriteTests(newRobot func() adapter.Robot, report *ConformanceReport) {
	robot := newRobot()
	ctx := context.Background()

	result := ConformanceResult{TestName: "Command_ReadModifyWrite", Details: make(map[string]interface{})}
	start := time.Now()

	var seed pdu.ActuatorCommand
	seed.Axis[0] = 0.75
	seed.Axis[5] = -0.5
	seed.Button[7] = true

	err := robot.WriteCommand(ctx, seed)
	var got pdu.ActuatorCommand
	if err == nil {
		var cmd pdu.ActuatorCommand
		cmd, err = robot.ReadCommand(ctx)
		if err == nil {
			cmd.SetAxis(pdu.AxisLift, 1.0)
			err = robot.WriteCommand(ctx, cmd)
		}
		if err == nil {
			got, err = robot.ReadCommand(ctx)
		}
	}
	result.Duration = time.Since(start)

	switch {
	case err != nil:
		result.Error = fmt.Sprintf("read-modify-write failed: %v", err)
	case got.Axis[0] != 0.75 || got.Axis[5] != -0.5 || !got.Button[7]:
		result.Error = fmt.Sprintf("unowned fields lost: %+v", got)
	case got.Axis[pdu.AxisLift] != 1.0:
		result.Error = fmt.Sprintf("lift axis = %v, want 1.0", got.Axis[pdu.AxisLift])
	default:
		result.Passed = true
	}
	report.addResult(result)
}

func runCancellationTests(newRobot func() adapter.Robot, report *ConformanceReport) {
	robot := newRobot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := ConformanceResult{TestName: "Context_Canceled", Details: make(map[string]interface{})}
	start := time.Now()

	calls := map[string]error{}
	_, calls["ReadPose"] = robot.ReadPose(ctx)
	_, calls["ReadHeight"] = robot.ReadHeight(ctx)
	_, calls["ReadCommand"] = robot.ReadCommand(ctx)
	calls["WriteCommand"] = robot.WriteCommand(ctx, pdu.ActuatorCommand{})
	result.Duration = time.Since(start)

	var failed []string
	for name, err := range calls {
		if !errors.Is(err, context.Canceled) {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(failed) > 0 {
		result.Error = "calls ignored cancellation: " + strings.Join(failed, "; ")
	} else {
		result.Passed = true
	}
	report.addResult(result)
}

// runTimingTests checks that port calls do not block.
func runTimingTests(newRobot func() adapter.Robot, report *ConformanceReport) {
	robot := newRobot()

	result := ConformanceResult{TestName: "Timing_NoSleeps", Details: make(map[string]interface{})}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := robot.ReadPose(ctx)
	result.Duration = time.Since(start)

	if result.Duration > 50*time.Millisecond {
		result.Error = fmt.Sprintf("Operation took too long: %v", result.Duration)
	} else if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("Unexpected error: %v", err)
	} else {
		result.Passed = true
		result.Details["duration"] = result.Duration.String()
	}

	report.addResult(result)
}

// Helper functions

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Logf("\n%s", strings.Repeat("=", 80))
	t.Logf("PORT CONFORMANCE REPORT")
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("Adapter: %s", report.AdapterName)
	t.Logf("Total: %d  Passed: %d  Failed: %d  Overall: %s",
		report.TotalTests, report.PassedTests, report.FailedTests,
		map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed])
	t.Logf("Duration: %v", report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))
	t.Logf("%-30s %-8s %-12s %-s", "TEST NAME", "RESULT", "DURATION", "DETAILS")

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}

		details := result.Error
		if details == "" && len(result.Details) > 0 {
			var parts []string
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}

		t.Logf("%-30s %-8s %-12s %-s", result.TestName, status, result.Duration.String(), details)
	}

	t.Logf("%s", strings.Repeat("=", 80))
}
