package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appscout/internal/knowledge"
	"appscout/internal/protocol"
)

func TestRulePlannerOpen(t *testing.T) {
	p := NewRulePlanner(nil)

	intent, err := p.AnalyzeIntent(context.Background(), "打开计算器")
	require.NoError(t, err)
	assert.Equal(t, OpOpen, intent.Operation)
	assert.Equal(t, "计算器", intent.AppName)
}

func TestRulePlannerSearch(t *testing.T) {
	p := NewRulePlanner(nil)

	intent, err := p.AnalyzeIntent(context.Background(), "打开网易云音乐 搜索稻香")
	require.NoError(t, err)
	assert.Equal(t, OpSearch, intent.Operation)
	assert.Equal(t, "网易云音乐", intent.AppName)
	assert.Equal(t, "稻香", intent.Parameters["query"])
}

func TestRulePlannerPlayContent(t *testing.T) {
	p := NewRulePlanner(nil)

	intent, err := p.AnalyzeIntent(context.Background(), "用网易云音乐播放晴天")
	require.NoError(t, err)
	assert.Equal(t, OpPlayContent, intent.Operation)
	assert.Equal(t, "网易云音乐", intent.AppName)
	assert.Equal(t, "晴天", intent.Parameters["content"])
}

func TestRulePlannerBareAppMention(t *testing.T) {
	p := NewRulePlanner(nil)

	intent, err := p.AnalyzeIntent(context.Background(), "微信返回上一页")
	require.NoError(t, err)
	assert.Equal(t, OpGoBack, intent.Operation)
	assert.Equal(t, "微信", intent.AppName)
}

func TestRulePlannerResolvesPackage(t *testing.T) {
	store, err := knowledge.NewSQLiteStore(t.TempDir() + "/k.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	learner, err := knowledge.NewLearner(store)
	require.NoError(t, err)

	p := NewRulePlanner(learner)
	intent, err := p.AnalyzeIntent(context.Background(), "打开微信")
	require.NoError(t, err)
	assert.Equal(t, "com.tencent.mm", intent.PackageName)
}

func TestRulePlannerNoMatch(t *testing.T) {
	p := NewRulePlanner(nil)

	_, err := p.AnalyzeIntent(context.Background(), "what time is it")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = p.AnalyzeIntent(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestRulePlannerExplanations(t *testing.T) {
	p := NewRulePlanner(nil)

	text, err := p.ExplainActions(context.Background(), []knowledge.Step{
		{Action: protocol.ActionClick},
		{Action: protocol.ActionTypeText, Text: "hi"},
	}, "say hi")
	require.NoError(t, err)
	assert.Contains(t, text, "click")
	assert.Contains(t, text, "type_text")

	text, err = p.ExplainError(context.Background(), "Device not connected", "say hi")
	require.NoError(t, err)
	assert.Contains(t, text, "Device not connected")
}
