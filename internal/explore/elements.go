package explore

import (
	"fmt"
	"strings"

	"appscout/internal/knowledge"
	"appscout/internal/protocol"
)

// elementTypeClasses matches widget class substrings to an element type.
// Ordered so the most specific widget families are tried first.
var elementTypeClasses = []struct {
	kind    string
	classes []string
}{
	{"text", []string{"android.widget.TextView"}},
	{"button", []string{"android.widget.Button", "android.widget.ImageButton"}},
	{"image", []string{"android.widget.ImageView"}},
	{"input", []string{"android.widget.EditText"}},
	{"list", []string{"android.widget.ListView", "android.widget.RecyclerView"}},
	{"scroll", []string{"android.widget.ScrollView", "android.widget.HorizontalScrollView"}},
	{"checkbox", []string{"android.widget.CheckBox"}},
	{"radio", []string{"android.widget.RadioButton"}},
	{"switch", []string{"android.widget.Switch", "android.widget.ToggleButton"}},
	{"spinner", []string{"android.widget.Spinner"}},
	{"seekbar", []string{"android.widget.SeekBar"}},
	{"webview", []string{"android.webkit.WebView"}},
	{"tab", []string{"android.widget.TabWidget", "com.google.android.material.tabs.TabLayout"}},
	{"drawer", []string{"androidx.drawerlayout.widget.DrawerLayout"}},
	{"navigation", []string{
		"com.google.android.material.navigation.NavigationView",
		"com.google.android.material.bottomnavigation.BottomNavigationView",
	}},
}

// ClassifyNode determines the element type of a UI node. Password inputs
// are distinguished from plain inputs by the isPassword attribute.
func ClassifyNode(n *protocol.UINode) string {
	kind := "unknown"
	for _, entry := range elementTypeClasses {
		for _, cls := range entry.classes {
			if strings.Contains(n.ClassName, cls) {
				kind = entry.kind
				break
			}
		}
		if kind != "unknown" {
			break
		}
	}
	if kind == "input" && n.IsPassword {
		kind = "password"
	}
	return kind
}

// IdentifyElements walks the UI tree and records every node that carries
// identity (text, description, resource id) or is clickable. Element ids
// encode the tree path, so the same screen yields the same ids. Degenerate
// bounding boxes are repaired, never dropped.
func IdentifyElements(root *protocol.UINode) map[string]knowledge.Element {
	elements := make(map[string]knowledge.Element)
	if root == nil {
		return elements
	}

	var walk func(n *protocol.UINode, path string)
	walk = func(n *protocol.UINode, path string) {
		if n.Text != "" || n.ContentDescription != "" || n.ResourceID != "" || n.Clickable {
			var bounds protocol.Bounds
			if n.Bounds != nil {
				bounds = *n.Bounds
				if !bounds.Valid() {
					bounds = bounds.Repair()
				}
			}
			elements["element_"+path] = knowledge.Element{
				Type:               ClassifyNode(n),
				ClassName:          n.ClassName,
				Text:               n.Text,
				ContentDescription: n.ContentDescription,
				ResourceID:         n.ResourceID,
				Bounds:             bounds,
				Clickable:          n.Clickable,
				LongClickable:      n.LongClickable,
				Checkable:          n.Checkable,
				Checked:            n.Checked,
				Selected:           n.Selected,
				Enabled:            n.Enabled,
				Focusable:          n.Focusable,
				Focused:            n.Focused,
				Scrollable:         n.Scrollable,
				Selector:           protocol.SynthesizeSelector(n),
			}
		}

		for i := range n.Children {
			walk(&n.Children[i], fmt.Sprintf("%s/%d", path, i))
		}
	}

	walk(root, "0")
	return elements
}

// inherentlyClickableTypes interact on tap even without the clickable flag.
var inherentlyClickableTypes = map[string]bool{
	"button":   true,
	"checkbox": true,
	"radio":    true,
	"switch":   true,
	"spinner":  true,
	"tab":      true,
}

// clickableTextMarkers are texts that signal a tappable text element.
var clickableTextMarkers = []string{"登录", "注册"}

// FindClickable filters discovered elements down to the ones worth tapping
// during exploration.
func FindClickable(elements map[string]knowledge.Element) map[string]knowledge.Element {
	clickable := make(map[string]knowledge.Element)

	for id, element := range elements {
		if element.Clickable {
			clickable[id] = element
			continue
		}
		if inherentlyClickableTypes[element.Type] {
			clickable[id] = element
			continue
		}
		lowerClass := strings.ToLower(element.ClassName)
		if strings.Contains(lowerClass, "item") {
			clickable[id] = element
			continue
		}
		if element.Type == "text" {
			if strings.Contains(lowerClass, "link") {
				clickable[id] = element
				continue
			}
			for _, marker := range clickableTextMarkers {
				if strings.Contains(element.Text, marker) {
					clickable[id] = element
					break
				}
			}
		}
	}
	return clickable
}
