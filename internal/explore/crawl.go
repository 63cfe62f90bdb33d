package explore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"appscout/internal/knowledge"
	"appscout/internal/logging"
	"appscout/internal/metric"
	"appscout/internal/protocol"
)

// State is a crawl lifecycle phase. Transitions only move forward; Ended is
// terminal.
type State string

const (
	StateStarting       State = "starting"
	StateLaunching      State = "launching"
	StateWaitingForLoad State = "waiting_for_load"
	StateReadyToExplore State = "ready_to_explore"
	StateExploring      State = "exploring"
	StateEnded          State = "ended"
)

// RequestSender is the slice of the device connection a crawl needs. The
// continuation must never be invoked synchronously from SendRequest.
type RequestSender interface {
	SendRequest(req *protocol.Request, cont protocol.Continuation) error
}

// Config bounds a crawl.
type Config struct {
	MaxScreens      int           // stop after this many distinct screens
	MaxDepth        int           // skip queue entries deeper than this
	MaxLoadWaits    int           // load polls before assuming the app is up
	MinLoadElements int           // UI node count that counts as "loaded"
	LaunchDelay     time.Duration // settle time after a successful launch
	LoadPollDelay   time.Duration // delay between load polls
	SettleDelay     time.Duration // settle time after a click
	BackDelay       time.Duration // settle time after pressing back
}

// DefaultConfig returns the standard crawl bounds.
func DefaultConfig() Config {
	return Config{
		MaxScreens:      15,
		MaxDepth:        5,
		MaxLoadWaits:    5,
		MinLoadElements: 5,
		LaunchDelay:     4 * time.Second,
		LoadPollDelay:   time.Second,
		SettleDelay:     1500 * time.Millisecond,
		BackDelay:       time.Second,
	}
}

// Result summarizes a finished crawl.
type Result struct {
	PackageName string
	Screens     int
	Elements    int
	Reason      string
	Elapsed     time.Duration
}

// queueItem is one pending click in the exploration frontier.
type queueItem struct {
	screenID  string
	elementID string
	depth     int
}

// Crawl explores one app on one device. At most one device request is
// outstanding at any time; every transition funnels through the response
// handlers under the crawl mutex.
type Crawl struct {
	config  Config
	sender  RequestSender
	learner *knowledge.Learner
	metrics *metric.Metrics

	sessionID   string
	packageName string
	appName     string
	onComplete  func(Result)

	mu             sync.Mutex
	state          State
	waits          int
	currentDepth   int
	queue          []queueItem
	visitedPaths   map[string]bool
	visitedScreens map[string]bool
	screens        map[string]knowledge.Screen
	elements       map[string]knowledge.Element
	started        time.Time
}

// New prepares a crawl. Start launches it.
func New(config Config, sender RequestSender, learner *knowledge.Learner, metrics *metric.Metrics,
	sessionID, packageName, appName string, onComplete func(Result)) *Crawl {
	if config.MaxScreens <= 0 {
		config = DefaultConfig()
	}
	return &Crawl{
		config:         config,
		sender:         sender,
		learner:        learner,
		metrics:        metrics,
		sessionID:      sessionID,
		packageName:    packageName,
		appName:        appName,
		onComplete:     onComplete,
		state:          StateStarting,
		visitedPaths:   make(map[string]bool),
		visitedScreens: make(map[string]bool),
		screens:        make(map[string]knowledge.Screen),
		elements:       make(map[string]knowledge.Element),
	}
}

// State returns the current lifecycle phase.
func (c *Crawl) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the target app and begins exploring.
func (c *Crawl) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStarting {
		return errors.New("crawl already started")
	}
	c.state = StateLaunching
	c.started = time.Now()

	logging.Explore("starting exploration of %s (%s)", c.appName, c.packageName)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditExploreStart,
		SessionID: c.sessionID,
		Target:    c.packageName,
		Success:   true,
	})

	var app *knowledge.AppKnowledge
	if c.learner != nil {
		app = c.learner.App(c.packageName)
	}
	return c.sendLocked(knowledge.LaunchParams(app, c.packageName), c.onLaunched)
}

// sendLocked builds and sends a request while holding the crawl mutex. The
// continuation re-enters through the handler, which takes the mutex itself.
func (c *Crawl) sendLocked(params protocol.Params, handler func(*protocol.Response)) error {
	req, err := protocol.NewRequest(params, c.sessionID)
	if err != nil {
		return fmt.Errorf("build %s request: %w", params.Action(), err)
	}
	if err := c.sender.SendRequest(req, handler); err != nil {
		return fmt.Errorf("send %s: %w", params.Action(), err)
	}
	return nil
}

// after schedules fn on the crawl's single logical thread. fn runs under
// the mutex and is dropped once the crawl has ended.
func (c *Crawl) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateEnded {
			return
		}
		fn()
	})
}

func (c *Crawl) onLaunched(resp *protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLaunching {
		return
	}

	if !resp.OK() {
		c.endLocked(fmt.Sprintf("launch failed: %s", resp.Error))
		return
	}

	logging.Explore("%s launched, waiting for load", c.packageName)
	c.state = StateWaitingForLoad
	c.waits = 0
	c.after(c.config.LaunchDelay, c.pollLoadLocked)
}

// pollLoadLocked sends one load-check poll, or declares the app loaded when
// the poll budget is spent.
func (c *Crawl) pollLoadLocked() {
	if c.state != StateWaitingForLoad {
		return
	}

	if c.waits >= c.config.MaxLoadWaits {
		logging.Explore("load wait budget spent, assuming %s is up", c.packageName)
		c.state = StateReadyToExplore
		c.requestScreenLocked()
		return
	}
	c.waits++

	if err := c.sendLocked(protocol.GetUIStateParams{}, c.onLoadPoll); err != nil {
		c.endLocked(fmt.Sprintf("load poll failed: %v", err))
	}
}

func (c *Crawl) onLoadPoll(resp *protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateWaitingForLoad {
		return
	}

	state := resp.State
	switch {
	case !resp.OK():
		logging.ExploreDebug("load poll error, retrying: %s", resp.Error)
	case state == nil:
		logging.ExploreDebug("load poll returned no parseable state, retrying")
	case state.CurrentPackage != c.packageName:
		logging.ExploreDebug("foreground is %s, waiting for %s", state.CurrentPackage, c.packageName)
	case state.UIHierarchy.CountNodes() < c.config.MinLoadElements:
		logging.ExploreDebug("UI still sparse (%d nodes), waiting", state.UIHierarchy.CountNodes())
	default:
		logging.Explore("%s loaded (%d UI nodes)", c.packageName, state.UIHierarchy.CountNodes())
		c.state = StateReadyToExplore
		c.requestScreenLocked()
		return
	}

	c.after(c.config.LoadPollDelay, c.pollLoadLocked)
}

// requestScreenLocked captures the current screen for analysis.
func (c *Crawl) requestScreenLocked() {
	c.state = StateExploring
	if err := c.sendLocked(protocol.GetUIStateParams{}, c.onScreenState); err != nil {
		c.endLocked(fmt.Sprintf("screen capture failed: %v", err))
	}
}

func (c *Crawl) onScreenState(resp *protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateExploring {
		return
	}

	if !resp.OK() || resp.State == nil {
		logging.ExploreWarn("screen capture failed (%s), backing out", resp.Error)
		c.goBackLocked()
		return
	}

	state := resp.State
	if state.CurrentPackage != c.packageName {
		// Clicked our way out of the target app
		logging.ExploreWarn("left target app (now in %s), backing out", state.CurrentPackage)
		c.goBackLocked()
		return
	}

	c.analyzeScreenLocked(state)
}

// analyzeScreenLocked records a screen and queues its clickable elements.
func (c *Crawl) analyzeScreenLocked(state *protocol.DeviceState) {
	screenID := ScreenID(state.CurrentActivity, state.UIHierarchy)

	if c.visitedScreens[screenID] {
		logging.ExploreDebug("screen %s already visited", screenID)
		c.exploreNextLocked()
		return
	}
	c.visitedScreens[screenID] = true

	screenType := IdentifyScreenType(state)
	elements := IdentifyElements(state.UIHierarchy)

	elementIDs := make([]string, 0, len(elements))
	for id, element := range elements {
		elementIDs = append(elementIDs, id)
		c.elements[id] = element
	}
	c.screens[screenID] = knowledge.Screen{
		Type:     screenType,
		Activity: state.CurrentActivity,
		Elements: elementIDs,
		LastSeen: protocol.Now(),
	}

	if c.metrics != nil {
		c.metrics.RecordScreenDiscovered()
		c.metrics.RecordElementsDiscovered(len(elements))
	}
	logging.AuditScreen(c.sessionID, c.packageName, screenID, len(elements))
	logging.Explore("analyzed screen %s (%s): %d elements", screenID, screenType, len(elements))

	for id := range FindClickable(elements) {
		path := screenID + "\x00" + id
		if c.visitedPaths[path] {
			continue
		}
		if len(c.queue) >= c.config.MaxScreens {
			break
		}
		c.queue = append(c.queue, queueItem{
			screenID:  screenID,
			elementID: id,
			depth:     c.currentDepth + 1,
		})
	}

	c.exploreNextLocked()
}

// exploreNextLocked pops the frontier until it finds a workable click or
// the crawl is done.
func (c *Crawl) exploreNextLocked() {
	for {
		if len(c.screens) >= c.config.MaxScreens {
			c.endLocked("screen budget reached")
			return
		}
		if len(c.queue) == 0 {
			c.endLocked("exploration complete")
			return
		}

		item := c.queue[0]
		c.queue = c.queue[1:]

		if item.depth > c.config.MaxDepth {
			logging.ExploreDebug("skipping %s: beyond depth %d", item.elementID, c.config.MaxDepth)
			continue
		}
		path := item.screenID + "\x00" + item.elementID
		if c.visitedPaths[path] {
			continue
		}
		c.visitedPaths[path] = true
		c.currentDepth = item.depth

		element, ok := c.elements[item.elementID]
		if !ok {
			logging.ExploreWarn("element %s vanished from the record", item.elementID)
			continue
		}

		c.clickLocked(item, element)
		return
	}
}

func (c *Crawl) clickLocked(item queueItem, element knowledge.Element) {
	selector := element.Selector.Improved()
	logging.Explore("clicking %q (%s) on %s, depth %d",
		element.Text, element.Type, item.screenID, item.depth)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditExploreClick,
		SessionID: c.sessionID,
		Target:    item.screenID + "/" + item.elementID,
		Success:   true,
	})
	if c.metrics != nil {
		c.metrics.RecordClick()
	}

	err := c.sendLocked(protocol.ClickParams{Selector: selector}, c.onClicked)
	if err != nil {
		logging.ExploreWarn("click send failed: %v", err)
		c.exploreNextLocked()
	}
}

func (c *Crawl) onClicked(resp *protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateExploring {
		return
	}

	if !resp.OK() {
		logging.ExploreDebug("click failed (%s), moving on", resp.Error)
		c.exploreNextLocked()
		return
	}

	// Let the UI settle before reading it back
	c.after(c.config.SettleDelay, c.requestScreenLocked)
}

// goBackLocked presses back to return toward the target app, then resumes
// the frontier.
func (c *Crawl) goBackLocked() {
	if c.metrics != nil {
		c.metrics.RecordBackNavigation()
	}
	err := c.sendLocked(protocol.KeyParams{Key: protocol.ActionPressBack}, func(*protocol.Response) {
		// Back is best-effort: resume either way once the UI settles
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateExploring {
			return
		}
		c.after(c.config.BackDelay, c.exploreNextLocked)
	})
	if err != nil {
		c.endLocked(fmt.Sprintf("back navigation failed: %v", err))
	}
}

// endLocked finishes the crawl: merge findings into the knowledge base,
// derive operations, persist, and report.
func (c *Crawl) endLocked(reason string) {
	if c.state == StateEnded {
		return
	}
	c.state = StateEnded

	elapsed := time.Since(c.started)
	result := Result{
		PackageName: c.packageName,
		Screens:     len(c.screens),
		Elements:    len(c.elements),
		Reason:      reason,
		Elapsed:     elapsed,
	}

	logging.Explore("exploration of %s ended: %s (%d screens, %d elements, %v)",
		c.packageName, reason, result.Screens, result.Elements, elapsed.Round(time.Millisecond))
	logging.Audit(logging.AuditEvent{
		EventType:  logging.AuditExploreComplete,
		SessionID:  c.sessionID,
		Target:     c.packageName,
		Success:    true,
		DurationMs: elapsed.Milliseconds(),
		Message:    reason,
	})

	if c.learner != nil {
		c.learner.Ensure(c.appName, c.packageName)
		c.learner.MergeExploration(c.packageName, c.screens, c.elements)
		c.learner.LearnOperations(c.packageName)
		if err := c.learner.Flush(c.packageName); err != nil {
			logging.ExploreError("persist knowledge for %s: %v", c.packageName, err)
			if c.metrics != nil {
				c.metrics.RecordKnowledgeSave("error")
			}
		} else if c.metrics != nil {
			c.metrics.RecordKnowledgeSave("success")
		}
	}

	if c.metrics != nil {
		outcome := "complete"
		if result.Screens == 0 {
			outcome = "empty"
		}
		c.metrics.RecordExploration(outcome)
	}

	if c.onComplete != nil {
		go c.onComplete(result)
	}
}
