package knowledge

import (
	"strings"
	"sync"

	"appscout/internal/logging"
	"appscout/internal/protocol"
)

// wellKnownApps maps common spoken app names to their package names. Lookup
// keys are lowercase.
var wellKnownApps = map[string]string{
	"微信":    "com.tencent.mm",
	"qq":    "com.tencent.mobileqq",
	"qq音乐":  "com.tencent.qqmusic",
	"网易云音乐": "com.netease.cloudmusic",
	"网易云":   "com.netease.cloudmusic",
	"云音乐":   "com.netease.cloudmusic",
	"哔哩哔哩":  "tv.danmaku.bili",
	"b站":    "tv.danmaku.bili",
	"bili":  "tv.danmaku.bili",
	"bilibili": "tv.danmaku.bili",
	"抖音":    "com.ss.android.ugc.aweme",
	"设置":    "com.android.settings",
	"短信":    "com.android.mms",
	"信息":    "com.android.mms",
	"电话":    "com.android.dialer",
	"联系人":   "com.android.contacts",
}

// interestingPrefixes marks package families worth learning.
var interestingPrefixes = []string{
	"com.android.",
	"com.google.android.",
	"com.tencent.",
	"com.netease.",
	"com.baidu.",
	"com.alibaba.",
	"com.sina.",
	"com.xiaomi.",
	"com.huawei.",
	"tv.danmaku.bili",
	"com.smile.gifmaker",
	"com.ss.android.ugc.aweme",
}

// priorityApps are learned first when batch learning.
var priorityApps = []string{
	"com.tencent.mm",
	"com.tencent.mobileqq",
	"com.netease.cloudmusic",
	"com.tencent.qqmusic",
	"com.kugou.android",
	"com.ss.android.ugc.aweme",
	"tv.danmaku.bili",
	"com.baidu.searchbox",
	"com.sina.weibo",
	"com.android.settings",
	"com.android.contacts",
	"com.android.mms",
	"com.android.dialer",
}

// maxFilteredApps caps the batch learning queue.
const maxFilteredApps = 20

// mediaPackageHints identify apps that warrant a play_content recipe.
var mediaPackageHints = []string{"music", "video", "player", "tv"}

// Learner owns the in-memory knowledge base and its persistence.
type Learner struct {
	mu    sync.RWMutex
	apps  map[string]*AppKnowledge
	store Store
}

// NewLearner creates a learner backed by the given store. A nil store keeps
// everything in memory only.
func NewLearner(store Store) (*Learner, error) {
	l := &Learner{
		apps:  make(map[string]*AppKnowledge),
		store: store,
	}

	if store != nil {
		apps, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		l.apps = apps
		logging.Knowledge("loaded knowledge for %d apps", len(apps))
	}
	return l, nil
}

// App returns the knowledge document for a package, or nil when unknown.
func (l *Learner) App(packageName string) *AppKnowledge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.apps[packageName]
}

// Ensure returns the knowledge document for a package, creating an empty
// one when none exists yet.
func (l *Learner) Ensure(appName, packageName string) *AppKnowledge {
	l.mu.Lock()
	defer l.mu.Unlock()
	if app, ok := l.apps[packageName]; ok {
		return app
	}
	app := NewAppKnowledge(appName, packageName)
	l.apps[packageName] = app
	return app
}

// Packages returns every known package name.
func (l *Learner) Packages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pkgs := make([]string, 0, len(l.apps))
	for pkg := range l.apps {
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// MergeExploration folds newly discovered screens and elements into an
// app's knowledge. Existing entries with the same ids are overwritten with
// the fresher observation.
func (l *Learner) MergeExploration(packageName string, screens map[string]Screen, elements map[string]Element) {
	l.mu.Lock()
	defer l.mu.Unlock()

	app, ok := l.apps[packageName]
	if !ok {
		app = NewAppKnowledge(packageName, packageName)
		l.apps[packageName] = app
	}

	for id, screen := range screens {
		app.Screens[id] = screen
	}
	for id, element := range elements {
		app.Elements[id] = element
	}
	app.LastExplored = protocol.Now()

	logging.Knowledge("merged exploration for %s: %d screens, %d elements (totals %d/%d)",
		packageName, len(screens), len(elements), len(app.Screens), len(app.Elements))
}

// LearnOperations derives reusable operation recipes from an app's
// discovered elements: a search recipe when a search or input element
// exists, a play_content recipe for media apps, and go_back always.
func (l *Learner) LearnOperations(packageName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	app, ok := l.apps[packageName]
	if !ok {
		return
	}

	now := protocol.Now()

	for _, element := range app.Elements {
		if element.Type != "search" && element.Type != "input" {
			continue
		}
		app.Actions["search"] = Action{
			Steps: []Step{
				{Action: protocol.ActionClick, Selector: selectorMap(element.Selector)},
				{Action: protocol.ActionTypeText, Text: "{query}"},
			},
			LastUsed: now,
		}
		break
	}

	if isMediaPackage(packageName) {
		app.Actions["play_content"] = Action{
			Steps: []Step{
				{Action: protocol.ActionFindElement, Selector: map[string]any{"text": "{content}"}},
				{Action: protocol.ActionClick, Selector: map[string]any{"text": "{content}"}},
			},
			LastUsed: now,
		}
	}

	app.Actions["go_back"] = Action{
		Steps:    []Step{{Action: protocol.ActionPressBack}},
		LastUsed: now,
	}

	app.LastLearned = now
	logging.Knowledge("learned %d operations for %s", len(app.Actions), packageName)
}

// FindAppByName resolves a spoken app name to a package name. Well-known
// aliases win; otherwise known apps match by substring in either direction.
// Returns empty when nothing matches.
func (l *Learner) FindAppByName(appName string) string {
	name := strings.ToLower(strings.TrimSpace(appName))
	if name == "" {
		return ""
	}

	if pkg, ok := wellKnownApps[name]; ok {
		return pkg
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for pkg, app := range l.apps {
		known := strings.ToLower(app.AppName)
		if known == "" {
			continue
		}
		if strings.Contains(known, name) || strings.Contains(name, known) {
			return pkg
		}
	}
	return ""
}

// OperationSteps returns the steps of a learned operation with {name}
// placeholders substituted from parameters. Returns nil when the app or
// operation is unknown.
func (l *Learner) OperationSteps(packageName, operationName string, parameters map[string]string) []Step {
	l.mu.Lock()
	defer l.mu.Unlock()

	app, ok := l.apps[packageName]
	if !ok {
		return nil
	}
	op, ok := app.Actions[operationName]
	if !ok {
		return nil
	}

	steps := make([]Step, len(op.Steps))
	for i, step := range op.Steps {
		steps[i] = substituteStep(step, parameters)
	}

	op.LastUsed = protocol.Now()
	app.Actions[operationName] = op

	return steps
}

// substituteStep returns a copy of step with placeholders replaced in its
// text and in string-valued selector fields.
func substituteStep(step Step, parameters map[string]string) Step {
	if len(parameters) == 0 {
		return step
	}

	out := step
	for key, value := range parameters {
		placeholder := "{" + key + "}"
		out.Text = strings.ReplaceAll(out.Text, placeholder, value)
	}

	if len(step.Selector) > 0 {
		selector := make(map[string]any, len(step.Selector))
		for field, v := range step.Selector {
			if s, ok := v.(string); ok {
				for key, value := range parameters {
					s = strings.ReplaceAll(s, "{"+key+"}", value)
				}
				selector[field] = s
			} else {
				selector[field] = v
			}
		}
		out.Selector = selector
	}
	return out
}

// FilterInterestingApps narrows an installed-app list to the ones worth
// learning: priority apps first, then known-family packages, capped.
func FilterInterestingApps(apps []AppEntry) []AppEntry {
	seen := make(map[string]bool)
	var filtered []AppEntry

	for _, priority := range priorityApps {
		for _, app := range apps {
			if app.PackageName == priority && !seen[app.PackageName] {
				filtered = append(filtered, app)
				seen[app.PackageName] = true
			}
		}
	}

	for _, app := range apps {
		if seen[app.PackageName] {
			continue
		}
		for _, prefix := range interestingPrefixes {
			if strings.HasPrefix(app.PackageName, prefix) {
				filtered = append(filtered, app)
				seen[app.PackageName] = true
				break
			}
		}
	}

	if len(filtered) > maxFilteredApps {
		filtered = filtered[:maxFilteredApps]
	}
	return filtered
}

// Flush persists one app's knowledge. No-op without a store.
func (l *Learner) Flush(packageName string) error {
	if l.store == nil {
		return nil
	}

	l.mu.RLock()
	app, ok := l.apps[packageName]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := l.store.SaveApp(app); err != nil {
		logging.StoreError("save knowledge for %s: %v", packageName, err)
		return err
	}
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditKnowledgeSaved,
		Target:    packageName,
		Success:   true,
	})
	return nil
}

// FlushAll persists every app's knowledge. Returns the first error.
func (l *Learner) FlushAll() error {
	l.mu.RLock()
	pkgs := make([]string, 0, len(l.apps))
	for pkg := range l.apps {
		pkgs = append(pkgs, pkg)
	}
	l.mu.RUnlock()

	for _, pkg := range pkgs {
		if err := l.Flush(pkg); err != nil {
			return err
		}
	}
	return nil
}

func isMediaPackage(packageName string) bool {
	for _, hint := range mediaPackageHints {
		if strings.Contains(packageName, hint) {
			return true
		}
	}
	return false
}

func selectorMap(s protocol.Selector) map[string]any {
	m := make(map[string]any)
	if s.ResourceID != "" {
		m["resourceId"] = s.ResourceID
	}
	if s.Text != "" {
		m["text"] = s.Text
	}
	if s.ContentDescription != "" {
		m["contentDescription"] = s.ContentDescription
	}
	if s.ClassName != "" {
		m["className"] = s.ClassName
	}
	if s.Fallback {
		m["fallback"] = "true"
	}
	return m
}
