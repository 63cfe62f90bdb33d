package explore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appscout/internal/knowledge"
	"appscout/internal/protocol"
)

type sentReq struct {
	req  *protocol.Request
	cont protocol.Continuation
}

// fakeSender captures outgoing requests so tests can answer them in order.
type fakeSender struct {
	reqs chan sentReq
}

func newFakeSender() *fakeSender {
	return &fakeSender{reqs: make(chan sentReq, 32)}
}

func (f *fakeSender) SendRequest(req *protocol.Request, cont protocol.Continuation) error {
	f.reqs <- sentReq{req: req, cont: cont}
	return nil
}

func (f *fakeSender) next(t *testing.T, want protocol.ActionType) sentReq {
	t.Helper()
	select {
	case sr := <-f.reqs:
		require.Equal(t, want, sr.req.Action, "unexpected request action")
		return sr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s request", want)
		return sentReq{}
	}
}

func fastConfig() Config {
	c := DefaultConfig()
	c.LaunchDelay = time.Millisecond
	c.LoadPollDelay = time.Millisecond
	c.SettleDelay = time.Millisecond
	c.BackDelay = time.Millisecond
	return c
}

func newCrawlLearner(t *testing.T) *knowledge.Learner {
	t.Helper()
	store, err := knowledge.NewSQLiteStore(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	learner, err := knowledge.NewLearner(store)
	require.NoError(t, err)
	return learner
}

func okResp(id string) *protocol.Response {
	return &protocol.Response{RequestID: id, Status: protocol.StatusSuccess}
}

func errResp(id, msg string) *protocol.Response {
	return protocol.ErrorResponse(id, msg)
}

func stateResp(id string, state *protocol.DeviceState) *protocol.Response {
	r := okResp(id)
	r.State = state
	return r
}

// loadedState builds a device state with enough nodes to count as loaded.
func loadedState(pkg, activity string, clickables ...string) *protocol.DeviceState {
	children := []protocol.UINode{
		{ClassName: "android.widget.TextView", Text: activity + " title"},
		{ClassName: "android.view.View"},
		{ClassName: "android.view.View"},
		{ClassName: "android.view.View"},
	}
	for _, text := range clickables {
		children = append(children, protocol.UINode{
			ClassName: "android.widget.Button",
			Text:      text,
			Clickable: true,
		})
	}
	return &protocol.DeviceState{
		CurrentPackage:  pkg,
		CurrentActivity: activity,
		UIHierarchy:     &protocol.UINode{ClassName: "android.widget.FrameLayout", Children: children},
	}
}

func waitForResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("crawl never completed")
		return Result{}
	}
}

func TestCrawlHappyPath(t *testing.T) {
	sender := newFakeSender()
	learner := newCrawlLearner(t)
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, learner, nil, "sess-1",
		"com.example.music", "Example Music", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	// Launch, then one load poll that reports a loaded screen.
	launch := sender.next(t, protocol.ActionLaunchApp)
	assert.Equal(t, "com.example.music", launch.req.Parameters["packageName"])
	launch.cont(okResp(launch.req.ID))

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.music", ".MainActivity", "搜索")))

	// Screen capture finds one clickable element.
	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.music", ".MainActivity", "搜索")))

	// The element is clicked and the next screen has nothing new to tap.
	click := sender.next(t, protocol.ActionClick)
	click.cont(okResp(click.req.ID))

	second := sender.next(t, protocol.ActionGetUIState)
	second.cont(stateResp(second.req.ID, loadedState("com.example.music", ".SearchActivity")))

	result := waitForResult(t, results)
	assert.Equal(t, "exploration complete", result.Reason)
	assert.Equal(t, 2, result.Screens)
	assert.Equal(t, StateEnded, crawl.State())

	app := learner.App("com.example.music")
	require.NotNil(t, app)
	assert.Len(t, app.Screens, 2)
	assert.NotZero(t, app.LastExplored)
}

func TestCrawlLaunchFailureEnds(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(errResp(launch.req.ID, "Device not connected"))

	result := waitForResult(t, results)
	assert.Contains(t, result.Reason, "launch failed")
	assert.Zero(t, result.Screens)
}

func TestCrawlWaitsForSlowLoad(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	// First poll: still on the launcher. Second poll: sparse UI. Third
	// poll: loaded.
	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.android.launcher", ".Home")))

	poll = sender.next(t, protocol.ActionGetUIState)
	sparse := &protocol.DeviceState{
		CurrentPackage: "com.example.app",
		UIHierarchy:    &protocol.UINode{ClassName: "android.widget.FrameLayout"},
	}
	poll.cont(stateResp(poll.req.ID, sparse))

	poll = sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.app", ".MainActivity")))

	// Screen capture, no clickable elements, done.
	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity")))

	result := waitForResult(t, results)
	assert.Equal(t, "exploration complete", result.Reason)
	assert.Equal(t, 1, result.Screens)
}

func TestCrawlLoadWaitBudget(t *testing.T) {
	sender := newFakeSender()
	config := fastConfig()
	config.MaxLoadWaits = 2
	results := make(chan Result, 1)

	crawl := New(config, sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	// Both polls time out at the device; the budget then forces a capture.
	for i := 0; i < 2; i++ {
		poll := sender.next(t, protocol.ActionGetUIState)
		poll.cont(errResp(poll.req.ID, "Request timed out"))
	}

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity")))

	result := waitForResult(t, results)
	assert.Equal(t, 1, result.Screens)
}

func TestCrawlBacksOutOfForeignApp(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.app", ".MainActivity", "外链")))

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity", "外链")))

	click := sender.next(t, protocol.ActionClick)
	click.cont(okResp(click.req.ID))

	// The click landed in the browser. The crawl must press back and move
	// on instead of recording the foreign screen.
	capture = sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.android.browser", ".BrowserActivity")))

	back := sender.next(t, protocol.ActionPressBack)
	back.cont(okResp(back.req.ID))

	result := waitForResult(t, results)
	assert.Equal(t, 1, result.Screens, "foreign screen must not be recorded")
}

func TestCrawlRevisitedScreenNotReanalyzed(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	screen := loadedState("com.example.app", ".MainActivity", "按钮一", "按钮二")

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, screen))

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, screen))

	// Both clicks lead right back to the same screen. It must be counted
	// once and its elements must not be re-queued.
	for i := 0; i < 2; i++ {
		click := sender.next(t, protocol.ActionClick)
		click.cont(okResp(click.req.ID))

		capture = sender.next(t, protocol.ActionGetUIState)
		capture.cont(stateResp(capture.req.ID, screen))
	}

	result := waitForResult(t, results)
	assert.Equal(t, "exploration complete", result.Reason)
	assert.Equal(t, 1, result.Screens)
}

func TestCrawlScreenBudget(t *testing.T) {
	sender := newFakeSender()
	config := fastConfig()
	config.MaxScreens = 1
	results := make(chan Result, 1)

	crawl := New(config, sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.app", ".MainActivity", "搜索")))

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity", "搜索")))

	result := waitForResult(t, results)
	assert.Equal(t, "screen budget reached", result.Reason)
	assert.Equal(t, 1, result.Screens)
}

func TestCrawlFailedClickSkipsElement(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.app", ".MainActivity", "坏按钮")))

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity", "坏按钮")))

	click := sender.next(t, protocol.ActionClick)
	click.cont(errResp(click.req.ID, "element not found"))

	result := waitForResult(t, results)
	assert.Equal(t, "exploration complete", result.Reason)
	assert.Equal(t, 1, result.Screens)
}

func TestCrawlDoubleStartRejected(t *testing.T) {
	sender := newFakeSender()
	crawl := New(fastConfig(), sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", nil)
	require.NoError(t, crawl.Start())
	assert.Error(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(errResp(launch.req.ID, "Device not connected"))
}

func TestCrawlDepthCapSkipsDeepElements(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	config := fastConfig()
	config.MaxDepth = 1

	crawl := New(config, sender, newCrawlLearner(t), nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	launch.cont(okResp(launch.req.ID))

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.app", ".MainActivity", "搜索")))

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity", "搜索")))

	// Depth 1 is within the cap, so the first screen's element is clicked.
	click := sender.next(t, protocol.ActionClick)
	click.cont(okResp(click.req.ID))

	// The second screen has a fresh clickable, but it sits at depth 2 and
	// must never be clicked.
	second := sender.next(t, protocol.ActionGetUIState)
	second.cont(stateResp(second.req.ID, loadedState("com.example.app", ".SearchActivity", "确定")))

	result := waitForResult(t, results)
	assert.Equal(t, "exploration complete", result.Reason)
	assert.Equal(t, 2, result.Screens)

	select {
	case sr := <-sender.reqs:
		t.Fatalf("unexpected %s request after the crawl ended", sr.req.Action)
	default:
	}
}

func TestCrawlNilLearner(t *testing.T) {
	sender := newFakeSender()
	results := make(chan Result, 1)

	crawl := New(fastConfig(), sender, nil, nil, "sess-1",
		"com.example.app", "Example", func(r Result) { results <- r })
	require.NoError(t, crawl.Start())

	launch := sender.next(t, protocol.ActionLaunchApp)
	assert.Equal(t, "com.example.app", launch.req.Parameters["packageName"])
	launch.cont(okResp(launch.req.ID))

	poll := sender.next(t, protocol.ActionGetUIState)
	poll.cont(stateResp(poll.req.ID, loadedState("com.example.app", ".MainActivity")))

	capture := sender.next(t, protocol.ActionGetUIState)
	capture.cont(stateResp(capture.req.ID, loadedState("com.example.app", ".MainActivity")))

	result := waitForResult(t, results)
	assert.Equal(t, "exploration complete", result.Reason)
	assert.Equal(t, 1, result.Screens)
}
