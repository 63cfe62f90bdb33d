package knowledge

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"appscout/internal/logging"
)

// Pattern is a learned command template bound to an action sequence.
// Variables appear in the template and in step parameters as {{name}}.
type Pattern struct {
	Template         string            `json:"template"`
	Keywords         []string          `json:"keywords"`
	Steps            []Step            `json:"steps"`
	VariablePatterns map[string]string `json:"variablePatterns,omitempty"`
}

// Match is a pattern selected for a command, with the variable values
// extracted from it.
type Match struct {
	Pattern   Pattern
	Variables map[string]string
	Score     float64
}

// matchThreshold is the minimum score for a pattern to be considered a hit.
const matchThreshold = 0.3

var (
	keywordRe  = regexp.MustCompile(`[\p{L}\p{N}]+`)
	variableRe = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// stopwords are filler words excluded from keyword extraction.
var stopwords = map[string]bool{
	"的": true, "了": true, "来": true, "在": true,
	"和": true, "是": true, "让": true, "通过": true,
}

// PatternSet holds learned command patterns and matches commands against
// them by keyword overlap and variable extraction.
type PatternSet struct {
	mu       sync.RWMutex
	patterns map[string]Pattern // keyed by joined keywords
}

// NewPatternSet returns an empty pattern set.
func NewPatternSet() *PatternSet {
	return &PatternSet{patterns: make(map[string]Pattern)}
}

// Learn stores a command template with its action sequence. Variable
// extraction rules are generated from the template's {{placeholders}} when
// none are supplied.
func (ps *PatternSet) Learn(template string, steps []Step, variablePatterns map[string]string) {
	keywords := extractKeywords(template)
	if len(variablePatterns) == 0 {
		variablePatterns = generateVariablePatterns(template)
	}

	id := strings.Join(keywords, "_")
	ps.mu.Lock()
	ps.patterns[id] = Pattern{
		Template:         template,
		Keywords:         keywords,
		Steps:            steps,
		VariablePatterns: variablePatterns,
	}
	ps.mu.Unlock()

	logging.Knowledge("learned command pattern %q (%d steps)", template, len(steps))
}

// Len reports the number of learned patterns.
func (ps *PatternSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.patterns)
}

// FindMatch scores every pattern against a command and returns the best
// one, or nil when nothing scores above the threshold. Extracted variables
// weigh more than keyword overlap: a pattern whose variable rules fire on
// the command is very likely the intended one.
func (ps *PatternSet) FindMatch(command string) *Match {
	commandKeywords := extractKeywords(command)

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var best *Match
	ids := make([]string, 0, len(ps.patterns))
	for id := range ps.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic tie-breaking

	for _, id := range ids {
		pattern := ps.patterns[id]
		variables := extractVariables(command, pattern.VariablePatterns)

		var score float64
		if len(variables) > 0 {
			score = float64(len(variables)) * 0.5
			score += keywordOverlap(commandKeywords, pattern.Keywords) * 0.5
		} else {
			score = keywordOverlap(commandKeywords, pattern.Keywords)
			// Variable-free matches need a stronger keyword signal
			if score < 0.5 {
				continue
			}
		}

		if score >= matchThreshold && (best == nil || score > best.Score) {
			best = &Match{Pattern: pattern, Variables: variables, Score: score}
		}
	}
	return best
}

// CustomizeSteps substitutes extracted variables into a matched pattern's
// steps. App-name variables are resolved to package names when known.
func (ps *PatternSet) CustomizeSteps(match *Match, learner *Learner) []Step {
	variables := make(map[string]string, len(match.Variables))
	for name, value := range match.Variables {
		variables[name] = value
	}
	if learner != nil {
		for name, value := range variables {
			if strings.Contains(strings.ToLower(name), "app") {
				if pkg := learner.FindAppByName(value); pkg != "" {
					variables[name] = pkg
				}
			}
		}
	}

	steps := make([]Step, len(match.Pattern.Steps))
	for i, step := range match.Pattern.Steps {
		steps[i] = substituteDoubleBrace(step, variables)
	}
	return steps
}

func substituteDoubleBrace(step Step, variables map[string]string) Step {
	replace := func(s string) string {
		for name, value := range variables {
			s = strings.ReplaceAll(s, "{{"+name+"}}", value)
		}
		return s
	}

	step.Text = replace(step.Text)
	if step.Selector != nil {
		sel := make(map[string]any, len(step.Selector))
		for key, value := range step.Selector {
			if str, ok := value.(string); ok {
				sel[key] = replace(str)
			} else {
				sel[key] = value
			}
		}
		step.Selector = sel
	}
	return step
}

func extractKeywords(text string) []string {
	words := keywordRe.FindAllString(strings.ToLower(text), -1)
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if stopwords[w] || len([]rune(w)) <= 1 {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}

func keywordOverlap(commandKeywords, patternKeywords []string) float64 {
	if len(commandKeywords) == 0 {
		return 0
	}
	set := make(map[string]bool, len(patternKeywords))
	for _, kw := range patternKeywords {
		set[kw] = true
	}
	matches := 0
	for _, kw := range commandKeywords {
		if set[kw] {
			matches++
		}
	}
	return float64(matches) / float64(len(commandKeywords))
}

// generateVariablePatterns derives extraction regexes for a template's
// {{placeholders}} from the placeholder names.
func generateVariablePatterns(template string) map[string]string {
	patterns := make(map[string]string)
	for _, match := range variableRe.FindAllStringSubmatch(template, -1) {
		name := match[1]
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "app"):
			patterns[name] = `(?:打开|启动|运行)\s*([^\s,，。.]+)`
		case strings.Contains(lower, "search"), strings.Contains(lower, "term"),
			strings.Contains(lower, "query"):
			patterns[name] = `(?:搜索|查找|听|播放)\s*([^\s,，。.]+)`
		default:
			patterns[name] = `([\p{L}\p{N}]+)`
		}
	}
	return patterns
}

func extractVariables(command string, variablePatterns map[string]string) map[string]string {
	variables := make(map[string]string)
	for name, pattern := range variablePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(command)
		if len(m) > 1 && m[1] != "" {
			variables[name] = m[1]
		}
	}
	return variables
}
