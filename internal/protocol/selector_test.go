package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectorImproved(t *testing.T) {
	full := Selector{
		ResourceID:         "com.example:id/search",
		Text:               "搜索",
		ContentDescription: "search box",
		ClassName:          "android.widget.EditText",
	}

	tests := []struct {
		name string
		in   Selector
		want Selector
	}{
		{
			name: "resource id alone wins",
			in:   full,
			want: Selector{ResourceID: "com.example:id/search"},
		},
		{
			name: "text next",
			in:   Selector{Text: "搜索", ClassName: "android.widget.Button"},
			want: Selector{Text: "搜索"},
		},
		{
			name: "content description next",
			in:   Selector{ContentDescription: "search box", ClassName: "android.widget.Button"},
			want: Selector{ContentDescription: "search box"},
		},
		{
			name: "class name only keeps valid bounds",
			in:   Selector{ClassName: "android.widget.Button", Bounds: &Bounds{0, 0, 100, 50}},
			want: Selector{ClassName: "android.widget.Button", Bounds: &Bounds{0, 0, 100, 50}},
		},
		{
			name: "class name only strips invalid bounds",
			in:   Selector{ClassName: "android.widget.Button", Bounds: &Bounds{100, 50, 100, 50}},
			want: Selector{ClassName: "android.widget.Button"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Improved())
		})
	}
}

func TestSynthesizeSelectorNeverEmpty(t *testing.T) {
	sel := SynthesizeSelector(&UINode{ClassName: ""})
	assert.True(t, sel.Fallback)
	assert.True(t, sel.Empty(), "fallback is a marker, not a locating attribute")

	sel = SynthesizeSelector(&UINode{
		ClassName: "android.widget.Button",
		Text:      "确定",
		Bounds:    &Bounds{10, 10, 10, 10},
	})
	assert.False(t, sel.Fallback)
	assert.Nil(t, sel.Bounds, "degenerate bounds must not be copied")
	assert.Equal(t, "确定", sel.Text)
}
