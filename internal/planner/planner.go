// Package planner turns natural-language commands into structured intents.
// The core only depends on the Planner interface; how an implementation
// reasons about a command is its own business.
package planner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"appscout/internal/knowledge"
)

// ErrNoMatch means a command could not be mapped to an intent. The caller
// decides what to do next; it is not a failure of the planner itself.
var ErrNoMatch = errors.New("no matching intent")

// Intent is the structured reading of a user command.
type Intent struct {
	Operation   string            `json:"operation"` // open, search, play_content, go_back
	AppName     string            `json:"appName,omitempty"`
	PackageName string            `json:"packageName,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// Planner maps commands to intents and produces user-facing explanations.
type Planner interface {
	AnalyzeIntent(ctx context.Context, command string) (*Intent, error)
	ExplainActions(ctx context.Context, steps []knowledge.Step, command string) (string, error)
	ExplainError(ctx context.Context, errText, command string) (string, error)
}

// Operation names shared by planner implementations and recipe storage.
const (
	OpOpen        = "open"
	OpSearch      = "search"
	OpPlayContent = "play_content"
	OpGoBack      = "go_back"
)

// appNamePatterns pull an app name out of common command shapes.
var appNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:打开|启动|运行|使用)\s*([^的\s]+)`),
	regexp.MustCompile(`(?:在|用|通过)\s*([^的\s]+?)(?:听|看|读|播放|搜索)`),
	regexp.MustCompile(`(?:听|看)([^的\s]+)的(?:歌|音乐|视频)`),
}

// commonAppNames are recognized anywhere in a command.
var commonAppNames = []string{
	"微信", "QQ", "支付宝", "淘宝", "抖音", "快手", "微博", "百度",
	"网易云音乐", "QQ音乐", "酷狗", "爱奇艺", "腾讯视频", "哔哩哔哩", "B站",
	"计算器", "相机", "时钟", "日历", "地图",
}

var (
	searchIntentRe = regexp.MustCompile(`(?:搜索|查找|找)\s*([^\s,.，。]+)`)
	playIntentRe   = regexp.MustCompile(`(?:播放|听|观看|看)\s*([^\s,.，。]+)`)
)

// RulePlanner resolves intents with regular expressions and the learned
// app-name aliases. It needs no external service and backs deployments
// without an oracle configured.
type RulePlanner struct {
	learner *knowledge.Learner
}

// NewRulePlanner creates a rule-based planner. learner may be nil; app
// names then resolve only through the built-in alias table.
func NewRulePlanner(learner *knowledge.Learner) *RulePlanner {
	return &RulePlanner{learner: learner}
}

// AnalyzeIntent extracts an app name and operation from the command.
func (p *RulePlanner) AnalyzeIntent(_ context.Context, command string) (*Intent, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrNoMatch
	}

	appName := extractAppName(command)
	if appName == "" {
		return nil, ErrNoMatch
	}

	intent := &Intent{AppName: appName, Parameters: map[string]string{}}
	if p.learner != nil {
		intent.PackageName = p.learner.FindAppByName(appName)
	}

	// Strip the app name so operation markers are matched against the
	// rest of the command only.
	rest := strings.ReplaceAll(command, appName, "")
	switch {
	case searchIntentRe.MatchString(rest):
		intent.Operation = OpSearch
		intent.Parameters["query"] = searchIntentRe.FindStringSubmatch(rest)[1]
	case playIntentRe.MatchString(rest):
		intent.Operation = OpPlayContent
		intent.Parameters["content"] = playIntentRe.FindStringSubmatch(rest)[1]
	case strings.Contains(rest, "返回") || strings.Contains(rest, "后退"):
		intent.Operation = OpGoBack
	default:
		intent.Operation = OpOpen
	}
	return intent, nil
}

// ExplainActions renders a terse step-by-step summary without an oracle.
func (p *RulePlanner) ExplainActions(_ context.Context, steps []knowledge.Step, command string) (string, error) {
	if len(steps) == 0 {
		return fmt.Sprintf("No actions planned for %q.", command), nil
	}
	parts := make([]string, len(steps))
	for i, step := range steps {
		parts[i] = string(step.Action)
	}
	return fmt.Sprintf("Executing %d steps for %q: %s.",
		len(steps), command, strings.Join(parts, ", ")), nil
}

// ExplainError wraps the raw error for the user.
func (p *RulePlanner) ExplainError(_ context.Context, errText, command string) (string, error) {
	return fmt.Sprintf("Could not complete %q: %s.", command, errText), nil
}

// extractAppName finds an app reference in a command, preferring the
// structured grammar patterns over bare name mentions.
func extractAppName(command string) string {
	for _, re := range appNamePatterns {
		if m := re.FindStringSubmatch(command); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	for _, name := range commonAppNames {
		if strings.Contains(command, name) {
			return name
		}
	}
	return ""
}
