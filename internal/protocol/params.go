package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// Params is a typed parameter set for one action. Each implementation
// validates its required fields and flattens into the loosely-typed
// string-keyed map devices expect on the wire.
type Params interface {
	Action() ActionType
	wireMap() (map[string]any, error)
}

// NewRequest builds a request with a fresh id from a typed parameter set.
// Validation failures surface here, before anything touches the wire.
func NewRequest(p Params, sessionID string) (*Request, error) {
	m, err := p.wireMap()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Action(), err)
	}
	return &Request{
		ID:         uuid.NewString(),
		Action:     p.Action(),
		Parameters: m,
		SessionID:  sessionID,
	}, nil
}

// ClickParams locates and clicks an element.
type ClickParams struct {
	Selector Selector
}

func (ClickParams) Action() ActionType { return ActionClick }

func (p ClickParams) wireMap() (map[string]any, error) {
	if p.Selector.Empty() && !p.Selector.Fallback {
		return nil, fmt.Errorf("selector required")
	}
	return map[string]any{"selector": p.Selector}, nil
}

// LongClickParams long-presses an element.
type LongClickParams struct {
	Selector   Selector
	DurationMs int
}

func (LongClickParams) Action() ActionType { return ActionLongClick }

func (p LongClickParams) wireMap() (map[string]any, error) {
	if p.Selector.Empty() && !p.Selector.Fallback {
		return nil, fmt.Errorf("selector required")
	}
	m := map[string]any{"selector": p.Selector}
	if p.DurationMs > 0 {
		m["duration"] = p.DurationMs
	}
	return m, nil
}

// SwipeParams performs a coordinate swipe.
type SwipeParams struct {
	StartX, StartY int
	EndX, EndY     int
	DurationMs     int
}

func (SwipeParams) Action() ActionType { return ActionSwipe }

func (p SwipeParams) wireMap() (map[string]any, error) {
	m := map[string]any{
		"start_x": p.StartX,
		"start_y": p.StartY,
		"end_x":   p.EndX,
		"end_y":   p.EndY,
	}
	if p.DurationMs > 0 {
		m["duration"] = p.DurationMs
	}
	return m, nil
}

// TypeTextParams types text into an input element.
type TypeTextParams struct {
	Selector Selector
	Text     string
}

func (TypeTextParams) Action() ActionType { return ActionTypeText }

func (p TypeTextParams) wireMap() (map[string]any, error) {
	m := map[string]any{"text": p.Text}
	if !p.Selector.Empty() || p.Selector.Fallback {
		m["selector"] = p.Selector
	}
	return m, nil
}

// ScrollParams scrolls the screen.
type ScrollParams struct {
	Direction string // up, down, left, right
	Percent   int
}

func (ScrollParams) Action() ActionType { return ActionScroll }

func (p ScrollParams) wireMap() (map[string]any, error) {
	switch p.Direction {
	case "up", "down", "left", "right":
	default:
		return nil, fmt.Errorf("invalid scroll direction %q", p.Direction)
	}
	m := map[string]any{"direction": p.Direction}
	if p.Percent > 0 {
		m["percent"] = p.Percent
	}
	return m, nil
}

// LaunchAppParams launches an application. When a full component (or a
// package+activity pair) is known the wire map carries a single "component"
// key; otherwise it carries "packageName" alone.
type LaunchAppParams struct {
	PackageName   string
	ActivityName  string
	FullComponent string
}

func (LaunchAppParams) Action() ActionType { return ActionLaunchApp }

func (p LaunchAppParams) wireMap() (map[string]any, error) {
	if p.FullComponent != "" {
		return map[string]any{"component": p.FullComponent}, nil
	}
	if p.PackageName == "" {
		return nil, fmt.Errorf("package name required")
	}
	if p.ActivityName != "" {
		return map[string]any{"component": p.PackageName + "/" + p.ActivityName}, nil
	}
	return map[string]any{"packageName": p.PackageName}, nil
}

// KeyParams covers the parameterless hardware-key actions.
type KeyParams struct {
	Key ActionType // ActionPressBack, ActionPressHome, ActionPressRecents
}

func (p KeyParams) Action() ActionType { return p.Key }

func (p KeyParams) wireMap() (map[string]any, error) {
	switch p.Key {
	case ActionPressBack, ActionPressHome, ActionPressRecents:
		return map[string]any{}, nil
	}
	return nil, fmt.Errorf("not a key action: %s", p.Key)
}

// FindElementParams locates an element without interacting with it.
type FindElementParams struct {
	Selector Selector
}

func (FindElementParams) Action() ActionType { return ActionFindElement }

func (p FindElementParams) wireMap() (map[string]any, error) {
	if p.Selector.Empty() && !p.Selector.Fallback {
		return nil, fmt.Errorf("selector required")
	}
	return map[string]any{"selector": p.Selector}, nil
}

// GetTextParams reads an element's text.
type GetTextParams struct {
	Selector Selector
}

func (GetTextParams) Action() ActionType { return ActionGetText }

func (p GetTextParams) wireMap() (map[string]any, error) {
	if p.Selector.Empty() && !p.Selector.Fallback {
		return nil, fmt.Errorf("selector required")
	}
	return map[string]any{"selector": p.Selector}, nil
}

// GetUIStateParams captures the current UI tree. No parameters.
type GetUIStateParams struct{}

func (GetUIStateParams) Action() ActionType { return ActionGetUIState }

func (GetUIStateParams) wireMap() (map[string]any, error) {
	return map[string]any{}, nil
}

// GetInstalledAppsParams lists installed applications. No parameters.
type GetInstalledAppsParams struct{}

func (GetInstalledAppsParams) Action() ActionType { return ActionGetInstalledApps }

func (GetInstalledAppsParams) wireMap() (map[string]any, error) {
	return map[string]any{}, nil
}

// ExecuteTaskParams runs a device-side predefined task.
type ExecuteTaskParams struct {
	TaskID     string
	Parameters map[string]any
}

func (ExecuteTaskParams) Action() ActionType { return ActionExecuteTask }

func (p ExecuteTaskParams) wireMap() (map[string]any, error) {
	if p.TaskID == "" {
		return nil, fmt.Errorf("task id required")
	}
	m := map[string]any{"taskId": p.TaskID}
	if len(p.Parameters) > 0 {
		m["parameters"] = p.Parameters
	}
	return m, nil
}

// RawParams carries a pre-built parameter map for an arbitrary action. Used
// when replaying learned action sequences whose parameters were recorded as
// wire maps.
type RawParams struct {
	Act    ActionType
	Values map[string]any
}

func (p RawParams) Action() ActionType { return p.Act }

func (p RawParams) wireMap() (map[string]any, error) {
	if p.Act == "" {
		return nil, fmt.Errorf("action required")
	}
	if p.Values == nil {
		return map[string]any{}, nil
	}
	return p.Values, nil
}
