package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"appscout/internal/knowledge"
	"appscout/internal/logging"
)

// GeminiPlanner resolves intents with Google's Gemini API. Commands the
// model cannot map to a known operation come back as ErrNoMatch, so the
// caller's fallback chain works the same as with the rule planner.
type GeminiPlanner struct {
	client *genai.Client
	model  string
}

// NewGeminiPlanner creates a Gemini-backed planner.
func NewGeminiPlanner(apiKey, model string) (*GeminiPlanner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiPlanner{client: client, model: model}, nil
}

const intentPrompt = `You map a user command for controlling an Android phone
to a JSON intent. Operations: "open" (launch an app), "search" (search inside
an app, parameter "query"), "play_content" (play media, parameter "content"),
"go_back" (navigate back). Respond with only a JSON object:
{"operation":"...","appName":"...","parameters":{...}}
Use an empty appName when no app is referenced. If the command maps to no
operation, respond {"operation":"none"}.

Command: %s`

// AnalyzeIntent asks the model for a structured intent.
func (p *GeminiPlanner) AnalyzeIntent(ctx context.Context, command string) (*Intent, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrNoMatch
	}

	timer := logging.StartTimer(logging.CategoryPlanner, "AnalyzeIntent")
	result, err := p.client.Models.GenerateContent(ctx,
		p.model,
		genai.Text(fmt.Sprintf(intentPrompt, command)),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("Gemini intent analysis failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, ErrNoMatch
	}

	var intent Intent
	if err := json.Unmarshal([]byte(text), &intent); err != nil {
		logging.PlannerWarn("unparseable intent from model: %q", text)
		return nil, ErrNoMatch
	}
	if intent.Operation == "" || intent.Operation == "none" {
		return nil, ErrNoMatch
	}
	if intent.Parameters == nil {
		intent.Parameters = map[string]string{}
	}

	logging.Planner("intent for %q: %s app=%q", command, intent.Operation, intent.AppName)
	return &intent, nil
}

// ExplainActions asks the model for a one-sentence description of a planned
// action sequence.
func (p *GeminiPlanner) ExplainActions(ctx context.Context, steps []knowledge.Step, command string) (string, error) {
	raw, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}

	prompt := fmt.Sprintf(
		"In one short sentence, tell the user what is about to happen on their phone "+
			"for the command %q, given these UI actions: %s", command, raw)
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini explain failed: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}

// ExplainError asks the model to phrase a failure for the user.
func (p *GeminiPlanner) ExplainError(ctx context.Context, errText, command string) (string, error) {
	prompt := fmt.Sprintf(
		"The phone command %q failed with error %q. In one short sentence, "+
			"tell the user what went wrong and what to try.", command, errText)
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini explain failed: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}
