package explore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appscout/internal/protocol"
)

func TestClassifyNode(t *testing.T) {
	tests := []struct {
		className string
		want      string
	}{
		{"android.widget.TextView", "text"},
		{"android.widget.Button", "button"},
		{"android.widget.ImageButton", "button"},
		{"android.widget.EditText", "input"},
		{"android.widget.RecyclerView", "list"},
		{"android.widget.Switch", "switch"},
		{"com.google.android.material.tabs.TabLayout", "tab"},
		{"android.view.View", "unknown"},
	}
	for _, tt := range tests {
		n := &protocol.UINode{ClassName: tt.className}
		assert.Equal(t, tt.want, ClassifyNode(n), tt.className)
	}
}

func TestClassifyNodePassword(t *testing.T) {
	n := &protocol.UINode{ClassName: "android.widget.EditText", IsPassword: true}
	assert.Equal(t, "password", ClassifyNode(n))
}

func TestIdentifyElementsSkipsDecorative(t *testing.T) {
	// Twenty nodes with no text, no description, no resource id and no
	// clickable flag should produce nothing.
	children := make([]protocol.UINode, 20)
	for i := range children {
		children[i] = protocol.UINode{ClassName: "android.view.View"}
	}
	root := protocol.UINode{ClassName: "android.widget.FrameLayout", Children: children}

	assert.Empty(t, IdentifyElements(&root))
}

func TestIdentifyElementsPathIDs(t *testing.T) {
	root := protocol.UINode{
		ClassName: "android.widget.FrameLayout",
		Children: []protocol.UINode{
			{ClassName: "android.view.View"},
			{ClassName: "android.widget.Button", Text: "OK"},
		},
	}
	elements := IdentifyElements(&root)
	require.Len(t, elements, 1)

	element, ok := elements["element_0/1"]
	require.True(t, ok, "element id should encode the tree path")
	assert.Equal(t, "button", element.Type)
	assert.Equal(t, "OK", element.Text)
}

func TestIdentifyElementsRepairsBounds(t *testing.T) {
	root := protocol.UINode{
		ClassName: "android.widget.Button",
		Text:      "Go",
		Clickable: true,
		Bounds:    &protocol.Bounds{Left: 100, Top: 50, Right: 100, Bottom: 50},
	}
	elements := IdentifyElements(&root)
	require.Len(t, elements, 1)

	element := elements["element_0"]
	assert.True(t, element.Bounds.Valid(), "degenerate bounds must be repaired")
	assert.Equal(t, 110, element.Bounds.Right)
	assert.Equal(t, 60, element.Bounds.Bottom)
	assert.False(t, element.Selector.Empty(), "selector must never be empty")
}

func TestIdentifyElementsFallbackSelector(t *testing.T) {
	// Clickable node with no identifying attribute at all still gets a
	// usable selector.
	root := protocol.UINode{Clickable: true}
	elements := IdentifyElements(&root)
	require.Len(t, elements, 1)
	assert.True(t, elements["element_0"].Selector.Fallback)
}

func TestFindClickable(t *testing.T) {
	root := protocol.UINode{
		ClassName: "android.widget.FrameLayout",
		Children: []protocol.UINode{
			{ClassName: "android.widget.TextView", Text: "just a label"},
			{ClassName: "android.widget.TextView", Text: "继续", Clickable: true},
			{ClassName: "android.widget.Button", Text: "OK"},
			{ClassName: "com.example.ListItemView", Text: "row"},
			{ClassName: "android.widget.TextView", Text: "请登录"},
		},
	}
	elements := IdentifyElements(&root)
	clickable := FindClickable(elements)

	assert.NotContains(t, clickable, "element_0/0", "plain label is not clickable")
	assert.Contains(t, clickable, "element_0/1", "clickable flag")
	assert.Contains(t, clickable, "element_0/2", "buttons are inherently clickable")
	assert.Contains(t, clickable, "element_0/3", "item classes are tappable")
	assert.Contains(t, clickable, "element_0/4", "login text marks a tappable element")
}
