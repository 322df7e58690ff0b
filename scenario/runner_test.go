package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wooveep/ocloudview-atp/vdiclient"
)

func TestRunExecutesStepsInOrderAndPasses(t *testing.T) {
	r := NewRunner(Targets{})
	s := Scenario{
		Name: "wait-twice",
		Steps: []Step{
			{Name: "a", Action: ActionWait, Params: map[string]any{"duration": "1ms"}},
			{Name: "b", Action: ActionWait, Params: map[string]any{"duration": "1ms"}},
		},
	}

	report := r.Run(context.Background(), s, false)
	assert.True(t, report.Passed)
	assert.Equal(t, 2, report.StepsSucceeded)
	assert.Equal(t, 0, report.StepsFailed)
	assert.Len(t, report.Steps, 2)
}

func TestRunStopsOnErrorWhenConfigured(t *testing.T) {
	r := NewRunner(Targets{})
	s := Scenario{
		Name: "fail-then-skip",
		Steps: []Step{
			{Name: "bad-action", Action: ActionKind("nonsense")},
			{Name: "never-runs", Action: ActionWait, Params: map[string]any{"duration": "1ms"}},
		},
	}

	report := r.Run(context.Background(), s, true)
	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.StepsFailed)
	assert.Equal(t, 1, report.StepsSkipped)
	assert.Equal(t, StepSkipped, report.Steps[1].Status)
}

func TestRunContinuesAfterFailureWithoutStopOnError(t *testing.T) {
	r := NewRunner(Targets{})
	s := Scenario{
		Name: "fail-then-continue",
		Steps: []Step{
			{Name: "bad-action", Action: ActionKind("nonsense")},
			{Name: "runs-anyway", Action: ActionWait, Params: map[string]any{"duration": "1ms"}},
		},
	}

	report := r.Run(context.Background(), s, false)
	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.StepsFailed)
	assert.Equal(t, 1, report.StepsSucceeded)
}

func TestDispatchSendKeyRequiresQMPTarget(t *testing.T) {
	r := NewRunner(Targets{})
	err := r.dispatchSendKey(context.Background(), Step{Params: map[string]any{"keys": []any{"a"}}})
	assert.Error(t, err)
}

func TestDispatchSendTextRequiresInputsTarget(t *testing.T) {
	r := NewRunner(Targets{})
	err := r.dispatchSendText(Step{Params: map[string]any{"text": "hi"}})
	assert.Error(t, err)
}

func TestDispatchMouseClickRequiresInputsTarget(t *testing.T) {
	r := NewRunner(Targets{})
	err := r.dispatchMouseClick(Step{Params: map[string]any{"button": "left"}})
	assert.Error(t, err)
}

func TestDispatchExecCommandRequiresQGATarget(t *testing.T) {
	r := NewRunner(Targets{})
	_, err := r.dispatchExecCommand(context.Background(), Step{Params: map[string]any{"command": "ls"}})
	assert.Error(t, err)
}

func TestDispatchWaitSucceedsAfterDuration(t *testing.T) {
	r := NewRunner(Targets{})
	start := time.Now()
	err := r.dispatchWait(context.Background(), Step{Params: map[string]any{"duration": "10ms"}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDispatchWaitRejectsBadDuration(t *testing.T) {
	r := NewRunner(Targets{})
	err := r.dispatchWait(context.Background(), Step{Params: map[string]any{"duration": "not-a-duration"}})
	assert.Error(t, err)
}

func TestDispatchWaitRespectsContextCancellation(t *testing.T) {
	r := NewRunner(Targets{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.dispatchWait(ctx, Step{Params: map[string]any{"duration": "1h"}})
	assert.Error(t, err)
}

func TestDispatchVdiOpListHostsWithNoOp(t *testing.T) {
	r := NewRunner(Targets{Vdi: vdiclient.NoOp{}})
	out, err := r.dispatchVdiOp(context.Background(), Step{Params: map[string]any{"op": "list_hosts"}})
	require.NoError(t, err)
	assert.Equal(t, "0 hosts", out)
}

func TestDispatchVdiOpUnknownOpErrors(t *testing.T) {
	r := NewRunner(Targets{Vdi: vdiclient.NoOp{}})
	_, err := r.dispatchVdiOp(context.Background(), Step{Params: map[string]any{"op": "delete_everything"}})
	assert.Error(t, err)
}

func TestDispatchVdiOpRequiresVdiTarget(t *testing.T) {
	r := NewRunner(Targets{})
	_, err := r.dispatchVdiOp(context.Background(), Step{Params: map[string]any{"op": "list_hosts"}})
	assert.Error(t, err)
}

func TestDispatchReturnsErrorForActionCustom(t *testing.T) {
	r := NewRunner(Targets{})
	_, err := r.dispatch(context.Background(), Step{Action: ActionCustom})
	assert.Error(t, err)
}

func TestRunVerifySkippedWhenNoVerifyTarget(t *testing.T) {
	r := NewRunner(Targets{})
	s := Scenario{
		Name: "verify-without-target",
		Steps: []Step{
			{Name: "noop-wait", Action: ActionWait, Verify: true, Params: map[string]any{"duration": "1ms"}},
		},
	}
	report := r.Run(context.Background(), s, false)
	assert.True(t, report.Passed)
}
