package scenario

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wooveep/ocloudview-atp/protocol/qga"
	"github.com/wooveep/ocloudview-atp/protocol/qmp"
	"github.com/wooveep/ocloudview-atp/protocol/spice"
	"github.com/wooveep/ocloudview-atp/vdiclient"
	"github.com/wooveep/ocloudview-atp/verify"
)

var tracer = otel.Tracer("github.com/wooveep/ocloudview-atp/scenario")

// Targets bundles the protocol sessions one Scenario run dispatches
// against. Any field may be nil; a Step whose action needs an absent
// target fails with a clear error rather than a nil-pointer panic.
type Targets struct {
	QMP      *qmp.Conn
	QGA      *qga.Session
	Inputs   *spice.ChannelSession
	MouseMode spice.MouseMode
	Vdi      vdiclient.Client
	Verify   *verify.Service
	VMID     string
}

// Runner executes a Scenario's steps in order against Targets, per
// spec.md §4 "Scenario executor". Each step is wrapped in an OpenTelemetry
// span, following the same instrumentation idiom used for request paths
// elsewhere in the system.
type Runner struct {
	targets Targets
}

func NewRunner(t Targets) *Runner { return &Runner{targets: t} }

// Run executes every step of s in order; a failed step stops the run only
// when stopOnError is set. stopOnError short-circuits remaining steps (marked Skipped) once a step
// fails, matching spec.md §7's "the step is marked failed but the scenario
// continues unless stop_on_error".
func (r *Runner) Run(ctx context.Context, s Scenario, stopOnError bool) Report {
	start := time.Now()
	report := Report{ScenarioName: s.Name, StartedAt: start, StepsTotal: len(s.Steps)}

	ctx, span := tracer.Start(ctx, "scenario.run", trace.WithAttributes(attribute.String("scenario.name", s.Name)))
	defer span.End()

	halt := false
	for i, step := range s.Steps {
		if halt {
			report.Steps = append(report.Steps, StepReport{Name: step.Name, Status: StepSkipped})
			report.StepsSkipped++
			continue
		}

		stepReport := r.runStep(ctx, i, step)
		report.Steps = append(report.Steps, stepReport)
		switch stepReport.Status {
		case StepSucceeded:
			report.StepsSucceeded++
		case StepFailed:
			report.StepsFailed++
			if stopOnError {
				halt = true
			}
		case StepSkipped:
			report.StepsSkipped++
		}
	}

	report.EndedAt = time.Now()
	report.DurationMs = report.EndedAt.Sub(start).Milliseconds()
	report.Passed = report.StepsFailed == 0
	if !report.Passed {
		span.SetStatus(codes.Error, "one or more steps failed")
	}
	return report
}

func (r *Runner) runStep(ctx context.Context, index int, step Step) StepReport {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepCtx, span := tracer.Start(stepCtx, "scenario.step",
		trace.WithAttributes(
			attribute.Int("step.index", index),
			attribute.String("step.name", step.Name),
			attribute.String("step.action", string(step.Action)),
		))
	defer span.End()

	start := time.Now()
	output, err := r.dispatch(stepCtx, step)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return StepReport{Name: step.Name, Status: StepFailed, Error: err.Error(), DurationMs: duration, Output: output}
	}

	if step.Verify && r.targets.Verify != nil {
		if verr := r.runVerify(stepCtx, step); verr != nil {
			span.SetStatus(codes.Error, verr.Error())
			return StepReport{Name: step.Name, Status: StepFailed, Error: verr.Error(), DurationMs: duration, Output: output}
		}
	}

	return StepReport{Name: step.Name, Status: StepSucceeded, DurationMs: duration, Output: output}
}

func (r *Runner) dispatch(ctx context.Context, step Step) (string, error) {
	switch step.Action {
	case ActionSendKey:
		return "", r.dispatchSendKey(ctx, step)
	case ActionSendText:
		return "", r.dispatchSendText(step)
	case ActionMouseClick:
		return "", r.dispatchMouseClick(step)
	case ActionExecCommand:
		return r.dispatchExecCommand(ctx, step)
	case ActionWait:
		return "", r.dispatchWait(ctx, step)
	case ActionVdiOp:
		return r.dispatchVdiOp(ctx, step)
	case ActionVerify:
		return "", nil // pure verification happens via step.Verify after dispatch
	case ActionCustom:
		return "", fmt.Errorf("scenario: ActionCustom has no built-in handler; wire one via a custom Runner")
	default:
		return "", fmt.Errorf("scenario: unknown action %q", step.Action)
	}
}

func (r *Runner) dispatchSendKey(ctx context.Context, step Step) error {
	if r.targets.QMP == nil {
		return fmt.Errorf("scenario: send_key requires a QMP target")
	}
	raw, _ := step.Params["keys"].([]any)
	var keys []qmp.QCode
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, qmp.QCode(s))
		}
	}
	return r.targets.QMP.SendKey(ctx, keys, 0)
}

func (r *Runner) dispatchSendText(step Step) error {
	if r.targets.Inputs == nil {
		return fmt.Errorf("scenario: send_text requires a SPICE Inputs target")
	}
	text, _ := step.Params["text"].(string)
	return r.targets.Inputs.SendText(text)
}

func (r *Runner) dispatchMouseClick(step Step) error {
	if r.targets.Inputs == nil {
		return fmt.Errorf("scenario: mouse_click requires a SPICE Inputs target")
	}
	buttonName, _ := step.Params["button"].(string)
	button := spice.MouseButtonLeft
	switch buttonName {
	case "middle":
		button = spice.MouseButtonMiddle
	case "right":
		button = spice.MouseButtonRight
	case "up":
		button = spice.MouseButtonUp
	case "down":
		button = spice.MouseButtonDown
	case "side":
		button = spice.MouseButtonSide
	case "extra":
		button = spice.MouseButtonExtra
	}

	if x, ok := numericParam(step.Params, "x"); ok {
		y, _ := numericParam(step.Params, "y")
		motion := spice.MouseMotionEvent{X: uint32(x), Y: uint32(y)}
		if err := r.targets.Inputs.SendMouseMotion(motion, r.targets.MouseMode); err != nil {
			return err
		}
	}

	mask := button.MaskFor()
	if err := r.targets.Inputs.SendMouseButton(spice.MouseButtonEvent{Button: button, ButtonsState: mask, Press: true}); err != nil {
		return err
	}
	return r.targets.Inputs.SendMouseButton(spice.MouseButtonEvent{Button: button, Press: false})
}

// numericParam reads a step param as a float64, tolerating both the
// float64 JSON/YAML decoders produce and a plain int a caller might
// construct in Go directly.
func numericParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r *Runner) dispatchExecCommand(ctx context.Context, step Step) (string, error) {
	if r.targets.QGA == nil {
		return "", fmt.Errorf("scenario: exec_command requires a QGA target")
	}
	shellCmd, _ := step.Params["command"].(string)
	windows, _ := step.Params["windows"].(bool)
	status, err := r.targets.QGA.ExecShell(ctx, shellCmd, windows)
	if err != nil {
		return "", err
	}
	if status.ExitCode != 0 {
		return string(status.Stdout), &qga.CommandFailedError{ExitCode: status.ExitCode}
	}
	return string(status.Stdout), nil
}

func (r *Runner) dispatchWait(ctx context.Context, step Step) error {
	d, _ := step.Params["duration"].(string)
	dur, err := time.ParseDuration(d)
	if err != nil {
		return fmt.Errorf("scenario: wait requires a parseable \"duration\" param: %w", err)
	}
	select {
	case <-time.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) dispatchVdiOp(ctx context.Context, step Step) (string, error) {
	if r.targets.Vdi == nil {
		return "", fmt.Errorf("scenario: vdi_op requires a vdiclient.Client target")
	}
	op, _ := step.Params["op"].(string)
	switch op {
	case "list_hosts":
		hosts, err := r.targets.Vdi.ListHosts(ctx)
		return fmt.Sprintf("%d hosts", len(hosts)), err
	case "list_domains":
		hostID, _ := step.Params["host_id"].(string)
		domains, err := r.targets.Vdi.ListDomains(ctx, hostID)
		return fmt.Sprintf("%d domains", len(domains)), err
	default:
		return "", fmt.Errorf("scenario: unknown vdi_op %q", op)
	}
}

func (r *Runner) runVerify(ctx context.Context, step Step) error {
	eventType, _ := step.Params["verify_event_type"].(string)
	if eventType == "" {
		eventType = string(verify.EventCommand)
	}
	data, _ := step.Params["verify_data"].(map[string]any)

	result, err := r.targets.Verify.VerifyEvent(ctx, r.targets.VMID, verify.EventType(eventType), data, step.Timeout)
	if err != nil {
		return fmt.Errorf("scenario: verify: %w", err)
	}
	if !result.Verified {
		return fmt.Errorf("scenario: verify: guest did not confirm event")
	}
	return nil
}
