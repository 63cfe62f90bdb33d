// Package knowledge accumulates what exploration discovers about apps:
// screens, interactive elements, and reusable operation recipes. The
// per-package AppKnowledge document is the unit of persistence.
package knowledge

import (
	"appscout/internal/protocol"
)

// Element is one discovered UI element with everything needed to find and
// act on it again.
type Element struct {
	Type               string            `json:"type"`
	ClassName          string            `json:"className"`
	Text               string            `json:"text,omitempty"`
	ContentDescription string            `json:"contentDescription,omitempty"`
	ResourceID         string            `json:"resourceId,omitempty"`
	Bounds             protocol.Bounds   `json:"bounds"`
	Clickable          bool              `json:"clickable"`
	LongClickable      bool              `json:"longClickable"`
	Checkable          bool              `json:"checkable"`
	Checked            bool              `json:"checked"`
	Selected           bool              `json:"selected"`
	Enabled            bool              `json:"enabled"`
	Focusable          bool              `json:"focusable"`
	Focused            bool              `json:"focused"`
	Scrollable         bool              `json:"scrollable"`
	Selector           protocol.Selector `json:"selector"`
}

// Screen is one discovered screen, referencing its elements by id.
type Screen struct {
	Type     string   `json:"type"`
	Activity string   `json:"activity"`
	Elements []string `json:"elements,omitempty"`
	LastSeen float64  `json:"lastSeen"`
}

// Step is one action in an operation recipe. Placeholders of the form
// {name} in Text and in string-valued selector fields are substituted when
// the recipe is retrieved.
type Step struct {
	Action   protocol.ActionType `json:"action"`
	Selector map[string]any      `json:"selector,omitempty"`
	Text     string              `json:"text,omitempty"`
}

// Action is a learned operation recipe for an app.
type Action struct {
	Steps    []Step  `json:"steps"`
	LastUsed float64 `json:"lastUsed"`
}

// AppKnowledge is everything learned about one app.
type AppKnowledge struct {
	AppName       string              `json:"appName"`
	PackageName   string              `json:"packageName"`
	MainActivity  string              `json:"mainActivity,omitempty"`
	FullComponent string              `json:"fullComponent,omitempty"`
	Elements      map[string]Element  `json:"elements"`
	Screens       map[string]Screen   `json:"screens"`
	Actions       map[string]Action   `json:"actions"`
	LastLearned   float64             `json:"lastLearned,omitempty"`
	LastExplored  float64             `json:"lastExplored,omitempty"`
}

// NewAppKnowledge returns an empty knowledge document for a package.
func NewAppKnowledge(appName, packageName string) *AppKnowledge {
	if appName == "" {
		appName = packageName
	}
	return &AppKnowledge{
		AppName:     appName,
		PackageName: packageName,
		Elements:    make(map[string]Element),
		Screens:     make(map[string]Screen),
		Actions:     make(map[string]Action),
	}
}

// LaunchParams builds launch parameters for a package, preferring the
// component information learned for it. app may be nil.
func LaunchParams(app *AppKnowledge, packageName string) protocol.LaunchAppParams {
	params := protocol.LaunchAppParams{PackageName: packageName}
	if app != nil {
		params.FullComponent = app.FullComponent
		params.ActivityName = app.MainActivity
	}
	return params
}

// AppEntry is one installed app as reported by a device.
type AppEntry struct {
	AppName     string `json:"appName"`
	PackageName string `json:"packageName"`
}
