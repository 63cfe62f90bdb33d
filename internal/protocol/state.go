package protocol

import (
	"encoding/json"
	"fmt"
)

// Bounds is a UI node's bounding box in screen coordinates.
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Valid reports whether the box has positive width and height.
func (b Bounds) Valid() bool {
	return b.Right > b.Left && b.Bottom > b.Top
}

// minExtent is the repaired edge length for degenerate boxes. A zero-area
// box would make the element unreachable by coordinate interaction, so
// boxes are repaired rather than rejected.
const minExtent = 10

// Repair returns the box with non-positive width/height expanded to the
// minimum extent.
func (b Bounds) Repair() Bounds {
	if b.Right <= b.Left {
		b.Right = b.Left + minExtent
	}
	if b.Bottom <= b.Top {
		b.Bottom = b.Top + minExtent
	}
	return b
}

// UINode is one node of the device-reported UI tree. Child order is
// meaningful: it is the traversal and element-indexing order.
type UINode struct {
	ClassName          string   `json:"className,omitempty"`
	Text               string   `json:"text,omitempty"`
	ContentDescription string   `json:"contentDescription,omitempty"`
	ResourceID         string   `json:"viewIdResourceName,omitempty"`
	Bounds             *Bounds  `json:"bounds,omitempty"`
	Clickable          bool     `json:"clickable,omitempty"`
	LongClickable      bool     `json:"longClickable,omitempty"`
	Checkable          bool     `json:"checkable,omitempty"`
	Checked            bool     `json:"checked,omitempty"`
	Selected           bool     `json:"selected,omitempty"`
	Enabled            bool     `json:"enabled,omitempty"`
	Focusable          bool     `json:"focusable,omitempty"`
	Focused            bool     `json:"focused,omitempty"`
	Scrollable         bool     `json:"scrollable,omitempty"`
	IsPassword         bool     `json:"isPassword,omitempty"`
	Children           []UINode `json:"children,omitempty"`
}

// CountNodes returns the number of nodes in the subtree rooted at n,
// including n itself. A nil root counts as zero.
func (n *UINode) CountNodes() int {
	if n == nil {
		return 0
	}
	count := 1
	for i := range n.Children {
		count += n.Children[i].CountNodes()
	}
	return count
}

// DeviceState is the typed snapshot a device reports for get_ui_state.
type DeviceState struct {
	CurrentPackage  string          `json:"current_package"`
	CurrentActivity string          `json:"current_activity"`
	ScreenState     string          `json:"screen_state,omitempty"`
	UIHierarchy     *UINode         `json:"ui_hierarchy,omitempty"`
	VisibleText     []string        `json:"visible_text,omitempty"`
	DeviceInfo      map[string]any  `json:"device_info,omitempty"`
}

// ParseDeviceState decodes the nested device-state JSON a device embeds in
// a get_ui_state response message.
func ParseDeviceState(raw []byte) (*DeviceState, error) {
	var state DeviceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse device state: %w", err)
	}
	return &state, nil
}
