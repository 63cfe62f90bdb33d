// Package command routes natural-language commands to devices: learned
// command patterns first, then planner intents resolved against app
// knowledge, executed step by step over a device connection.
package command

import (
	"context"
	"errors"
	"fmt"

	"appscout/internal/knowledge"
	"appscout/internal/logging"
	"appscout/internal/planner"
	"appscout/internal/protocol"
	"appscout/internal/server"
	"appscout/internal/session"
)

// ErrUnknownCommand means neither a learned pattern nor the planner could
// map the command to actions.
var ErrUnknownCommand = errors.New("no matching command pattern")

// ErrUnknownApp means an intent referenced an app that is not known.
var ErrUnknownApp = errors.New("unknown app")

// Devices is the device lookup the executor needs from the server.
type Devices interface {
	Device(id string) (*server.DeviceConn, error)
}

// Result reports a completed command execution.
type Result struct {
	SessionID string
	Steps     []knowledge.Step
	Message   string
}

// Executor resolves and runs commands. All collaborators except devices
// and sessions are optional.
type Executor struct {
	devices  Devices
	sessions *session.Manager
	learner  *knowledge.Learner
	patterns *knowledge.PatternSet
	planner  planner.Planner
}

// NewExecutor wires a command executor.
func NewExecutor(devices Devices, sessions *session.Manager, learner *knowledge.Learner,
	patterns *knowledge.PatternSet, p planner.Planner) *Executor {
	return &Executor{
		devices:  devices,
		sessions: sessions,
		learner:  learner,
		patterns: patterns,
		planner:  p,
	}
}

// Execute resolves a command to an action sequence and runs it on the
// device. An empty sessionID opens a new session; the session id used is
// returned either way.
func (e *Executor) Execute(ctx context.Context, deviceID, cmd, sessionID string) (*Result, error) {
	device, err := e.devices.Device(deviceID)
	if err != nil {
		return nil, err
	}

	sess, err := e.session(deviceID, cmd, sessionID)
	if err != nil {
		return nil, err
	}

	steps, fromPattern, err := e.resolve(ctx, cmd)
	if err != nil {
		return &Result{SessionID: sess.ID}, err
	}

	logging.Server("executing %d steps on %s for %q", len(steps), deviceID, cmd)
	for i, step := range steps {
		if err := e.runStep(ctx, device, sess.ID, step); err != nil {
			wrapped := fmt.Errorf("step %d/%d (%s): %w", i+1, len(steps), step.Action, err)
			return &Result{SessionID: sess.ID, Steps: steps, Message: e.explainError(ctx, wrapped, cmd)}, wrapped
		}
	}
	sess.Touch()

	// A planner-resolved command that just worked becomes a pattern, so the
	// next similar command skips the planner round trip.
	if !fromPattern && e.patterns != nil {
		e.patterns.Learn(cmd, steps, nil)
	}

	return &Result{
		SessionID: sess.ID,
		Steps:     steps,
		Message:   e.explainActions(ctx, steps, cmd),
	}, nil
}

func (e *Executor) session(deviceID, cmd, sessionID string) (*session.Session, error) {
	if sessionID != "" {
		if sess, err := e.sessions.Get(sessionID); err == nil {
			sess.SetInstruction(cmd)
			return sess, nil
		}
		// Stale id from the caller: open a fresh session instead
	}
	return e.sessions.Create(deviceID, cmd)
}

// resolve maps a command to steps: learned pattern, then planner intent.
// fromPattern reports which path produced the steps.
func (e *Executor) resolve(ctx context.Context, cmd string) (steps []knowledge.Step, fromPattern bool, err error) {
	if e.patterns != nil {
		if match := e.patterns.FindMatch(cmd); match != nil {
			logging.Server("command %q matched learned pattern %q", cmd, match.Pattern.Template)
			return e.patterns.CustomizeSteps(match, e.learner), true, nil
		}
	}

	if e.planner == nil {
		return nil, false, ErrUnknownCommand
	}
	intent, err := e.planner.AnalyzeIntent(ctx, cmd)
	if errors.Is(err, planner.ErrNoMatch) {
		return nil, false, ErrUnknownCommand
	}
	if err != nil {
		return nil, false, err
	}
	steps, err = e.stepsForIntent(intent)
	return steps, false, err
}

// stepsForIntent converts a planner intent into executable steps using the
// app's learned recipes.
func (e *Executor) stepsForIntent(intent *planner.Intent) ([]knowledge.Step, error) {
	if intent.Operation == planner.OpGoBack {
		return []knowledge.Step{{Action: protocol.ActionPressBack}}, nil
	}

	pkg := intent.PackageName
	if pkg == "" && e.learner != nil {
		pkg = e.learner.FindAppByName(intent.AppName)
	}
	if pkg == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, intent.AppName)
	}

	launch := knowledge.Step{
		Action:   protocol.ActionLaunchApp,
		Selector: launchSelector(e.learner, pkg),
	}
	steps := []knowledge.Step{launch}

	if intent.Operation != planner.OpOpen && e.learner != nil {
		recipe := e.learner.OperationSteps(pkg, intent.Operation, intent.Parameters)
		if recipe == nil {
			logging.Server("no %s recipe for %s, launching only", intent.Operation, pkg)
		}
		steps = append(steps, recipe...)
	}
	return steps, nil
}

// launchSelector carries launch parameters in a step's selector map,
// preferring learned component information.
func launchSelector(learner *knowledge.Learner, pkg string) map[string]any {
	sel := map[string]any{"packageName": pkg}
	if learner == nil {
		return sel
	}
	if app := learner.App(pkg); app != nil {
		if app.FullComponent != "" {
			sel["fullComponent"] = app.FullComponent
		}
		if app.MainActivity != "" {
			sel["activityName"] = app.MainActivity
		}
	}
	return sel
}

// runStep sends one step to the device and waits for its outcome.
func (e *Executor) runStep(ctx context.Context, device *server.DeviceConn, sessionID string, step knowledge.Step) error {
	req, err := protocol.NewRequest(stepParams(step), sessionID)
	if err != nil {
		return err
	}
	resp, err := device.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return errors.New(resp.Error)
	}
	return nil
}

// stepParams converts a stored step into typed wire parameters.
func stepParams(step knowledge.Step) protocol.Params {
	switch step.Action {
	case protocol.ActionLaunchApp:
		return protocol.LaunchAppParams{
			PackageName:   str(step.Selector, "packageName"),
			ActivityName:  str(step.Selector, "activityName"),
			FullComponent: str(step.Selector, "fullComponent"),
		}
	case protocol.ActionTypeText:
		values := map[string]any{"text": step.Text}
		if len(step.Selector) > 0 {
			values["selector"] = step.Selector
		}
		return protocol.RawParams{Act: step.Action, Values: values}
	case protocol.ActionPressBack, protocol.ActionPressHome, protocol.ActionPressRecents:
		return protocol.KeyParams{Key: step.Action}
	default:
		values := map[string]any{}
		if len(step.Selector) > 0 {
			values["selector"] = step.Selector
		}
		if step.Text != "" {
			values["text"] = step.Text
		}
		return protocol.RawParams{Act: step.Action, Values: values}
	}
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func (e *Executor) explainActions(ctx context.Context, steps []knowledge.Step, cmd string) string {
	if e.planner == nil {
		return ""
	}
	text, err := e.planner.ExplainActions(ctx, steps, cmd)
	if err != nil {
		logging.PlannerWarn("explain actions: %v", err)
		return ""
	}
	return text
}

func (e *Executor) explainError(ctx context.Context, execErr error, cmd string) string {
	if e.planner == nil {
		return ""
	}
	text, err := e.planner.ExplainError(ctx, execErr.Error(), cmd)
	if err != nil {
		logging.PlannerWarn("explain error: %v", err)
		return ""
	}
	return text
}
