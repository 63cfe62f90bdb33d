package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appscout/internal/protocol"
)

func launchSteps() []Step {
	return []Step{{
		Action:   protocol.ActionLaunchApp,
		Selector: map[string]any{"packageName": "{{app_name}}"},
	}}
}

func TestPatternLearnAndMatch(t *testing.T) {
	ps := NewPatternSet()
	ps.Learn("打开 {{app_name}}", launchSteps(), nil)
	require.Equal(t, 1, ps.Len())

	match := ps.FindMatch("打开 网易云音乐")
	require.NotNil(t, match)
	assert.Equal(t, "网易云音乐", match.Variables["app_name"])
}

func TestPatternNoMatch(t *testing.T) {
	ps := NewPatternSet()
	ps.Learn("打开 {{app_name}}", launchSteps(), nil)

	assert.Nil(t, ps.FindMatch("what is the weather like"))
}

func TestPatternKeywordOnlyMatchNeedsOverlap(t *testing.T) {
	ps := NewPatternSet()
	ps.Learn("volume up please", []Step{{Action: protocol.ActionExecuteTask, Text: "volume_up"}}, nil)

	match := ps.FindMatch("volume up")
	require.NotNil(t, match)
	assert.Empty(t, match.Variables)

	assert.Nil(t, ps.FindMatch("volume of the red box"), "weak keyword overlap must not match")
}

func TestPatternCustomizeSteps(t *testing.T) {
	ps := NewPatternSet()
	ps.Learn("搜索 {{query}}", []Step{
		{Action: protocol.ActionClick, Selector: map[string]any{"resourceId": "search_btn"}},
		{Action: protocol.ActionTypeText, Text: "{{query}}"},
	}, nil)

	match := ps.FindMatch("搜索 稻香")
	require.NotNil(t, match)

	steps := ps.CustomizeSteps(match, nil)
	require.Len(t, steps, 2)
	assert.Equal(t, "稻香", steps[1].Text)
	// The stored pattern must keep its placeholder
	assert.Equal(t, "{{query}}", match.Pattern.Steps[1].Text)
}

func TestPatternCustomizeResolvesAppName(t *testing.T) {
	learner := newTestLearner(t)
	learner.Ensure("网易云音乐", "com.netease.cloudmusic")

	ps := NewPatternSet()
	ps.Learn("打开 {{app_name}}", launchSteps(), nil)

	match := ps.FindMatch("打开 网易云音乐")
	require.NotNil(t, match)

	steps := ps.CustomizeSteps(match, learner)
	require.Len(t, steps, 1)
	assert.Equal(t, "com.netease.cloudmusic", steps[0].Selector["packageName"])
}

func TestPatternExplicitVariableRules(t *testing.T) {
	ps := NewPatternSet()
	ps.Learn("send {{message}} to mom", []Step{{Action: protocol.ActionTypeText, Text: "{{message}}"}},
		map[string]string{"message": `send\s+(\w+)\s+to`})

	match := ps.FindMatch("send hello to mom")
	require.NotNil(t, match)
	assert.Equal(t, "hello", match.Variables["message"])
}
