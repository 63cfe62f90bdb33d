package explore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"appscout/internal/knowledge"
	"appscout/internal/logging"
	"appscout/internal/metric"
	"appscout/internal/protocol"
	"appscout/internal/session"
)

// BatchResult summarizes a batch learning run over many apps.
type BatchResult struct {
	Total    int
	Explored int
	Failed   int
	Elapsed  time.Duration
}

// Batch learns a device's interesting apps one after another. Each app gets
// its own crawl; the device returns to the home screen between apps.
type Batch struct {
	config  Config
	sender  RequestSender
	learner *knowledge.Learner
	metrics *metric.Metrics
	session *session.Session

	homeDelay  time.Duration
	onComplete func(BatchResult)

	mu       sync.Mutex
	running  bool
	appNames map[string]string // package name to display name
	explored int
	failed   int
	total    int
	started  time.Time
}

// NewBatch prepares a batch run over the apps installed on sender's device.
func NewBatch(config Config, sender RequestSender, learner *knowledge.Learner,
	metrics *metric.Metrics, sess *session.Session, onComplete func(BatchResult)) *Batch {
	if config.MaxScreens <= 0 {
		config = DefaultConfig()
	}
	return &Batch{
		config:     config,
		sender:     sender,
		learner:    learner,
		metrics:    metrics,
		session:    sess,
		homeDelay:  2 * time.Second,
		onComplete: onComplete,
	}
}

// Start asks the device for its installed apps and begins working through
// the interesting ones.
func (b *Batch) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("batch learning already running")
	}
	b.running = true
	b.started = time.Now()

	req, err := protocol.NewRequest(protocol.GetInstalledAppsParams{}, b.session.ID)
	if err != nil {
		b.running = false
		return fmt.Errorf("build app list request: %w", err)
	}
	if err := b.sender.SendRequest(req, b.onAppList); err != nil {
		b.running = false
		return fmt.Errorf("request app list: %w", err)
	}
	return nil
}

func (b *Batch) onAppList(resp *protocol.Response) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !resp.OK() {
		logging.ExploreError("app list request failed: %s", resp.Error)
		b.finishLocked()
		return
	}

	apps, err := decodeAppList(resp.Data.Message)
	if err != nil {
		logging.ExploreError("app list unreadable: %v", err)
		b.finishLocked()
		return
	}

	interesting := knowledge.FilterInterestingApps(apps)
	b.total = len(interesting)
	logging.Explore("batch learning %d of %d installed apps", b.total, len(apps))

	if b.total == 0 {
		b.finishLocked()
		return
	}

	packages := make([]string, 0, len(interesting))
	b.appNames = make(map[string]string, len(interesting))
	for _, app := range interesting {
		packages = append(packages, app.PackageName)
		b.appNames[app.PackageName] = app.AppName
	}
	b.session.SetLearnQueue(packages)
	b.nextAppLocked()
}

// decodeAppList accepts the app list either as a bare array or wrapped in
// an {"apps": [...]} object, depending on the device build.
func decodeAppList(raw json.RawMessage) ([]knowledge.AppEntry, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty app list payload")
	}
	var apps []knowledge.AppEntry
	if err := json.Unmarshal(raw, &apps); err == nil {
		return apps, nil
	}
	var wrapped struct {
		Apps []knowledge.AppEntry `json:"apps"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse app list: %w", err)
	}
	return wrapped.Apps, nil
}

// nextAppLocked pops the learn queue and starts a crawl for the next app.
func (b *Batch) nextAppLocked() {
	pkg, ok := b.session.NextLearnTarget()
	if !ok {
		b.finishLocked()
		return
	}
	appName := b.appNames[pkg]

	done, total := b.session.LearnProgress()
	logging.Explore("learning app %d/%d: %s (%s)", done, total, appName, pkg)

	crawl := New(b.config, b.sender, b.learner, b.metrics,
		b.session.ID, pkg, appName, b.onCrawlDone)
	if err := crawl.Start(); err != nil {
		logging.ExploreWarn("could not start crawl for %s: %v", pkg, err)
		b.failed++
		b.goHomeThenNextLocked()
	}
}

func (b *Batch) onCrawlDone(result Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if result.Screens > 0 {
		b.explored++
	} else {
		b.failed++
	}
	b.goHomeThenNextLocked()
}

// goHomeThenNextLocked returns the device to the home screen before the
// next app so each crawl starts from a known place.
func (b *Batch) goHomeThenNextLocked() {
	req, err := protocol.NewRequest(protocol.KeyParams{Key: protocol.ActionPressHome}, b.session.ID)
	if err != nil {
		b.nextAppLocked()
		return
	}
	err = b.sender.SendRequest(req, func(*protocol.Response) {
		time.AfterFunc(b.homeDelay, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.running {
				return
			}
			b.nextAppLocked()
		})
	})
	if err != nil {
		b.nextAppLocked()
	}
}

func (b *Batch) finishLocked() {
	if !b.running {
		return
	}
	b.running = false

	result := BatchResult{
		Total:    b.total,
		Explored: b.explored,
		Failed:   b.failed,
		Elapsed:  time.Since(b.started),
	}
	logging.Explore("batch learning finished: %d explored, %d failed of %d in %v",
		result.Explored, result.Failed, result.Total, result.Elapsed.Round(time.Second))

	if b.onComplete != nil {
		go b.onComplete(result)
	}
}
