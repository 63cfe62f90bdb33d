package knowledge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appscout/internal/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadApp(t *testing.T) {
	store := newTestStore(t)

	app := NewAppKnowledge("Music", "com.example.music")
	app.MainActivity = ".MainActivity"
	app.FullComponent = "com.example.music/.MainActivity"
	app.Screens["MainActivity_Home"] = Screen{Type: "main_screen", Activity: "MainActivity"}
	app.Elements["element_0"] = Element{
		Type:      "button",
		Text:      "Play",
		Clickable: true,
		Selector:  protocol.Selector{ResourceID: "com.example:id/play"},
	}
	app.Actions["go_back"] = Action{
		Steps: []Step{{Action: protocol.ActionPressBack}},
	}

	require.NoError(t, store.SaveApp(app))

	got, err := store.LoadApp("com.example.music")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Music", got.AppName)
	assert.Equal(t, "com.example.music/.MainActivity", got.FullComponent)
	assert.Equal(t, "main_screen", got.Screens["MainActivity_Home"].Type)
	assert.Equal(t, "com.example:id/play", got.Elements["element_0"].Selector.ResourceID)
	assert.Equal(t, protocol.ActionPressBack, got.Actions["go_back"].Steps[0].Action)
}

func TestLoadUnknownApp(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LoadApp("com.never.seen")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	app := NewAppKnowledge("Old Name", "com.example.app")
	require.NoError(t, store.SaveApp(app))

	app.AppName = "New Name"
	app.Screens["s1"] = Screen{Type: "login_screen"}
	require.NoError(t, store.SaveApp(app))

	got, err := store.LoadApp("com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.AppName)
	assert.Len(t, got.Screens, 1)
}

func TestLoadAll(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveApp(NewAppKnowledge("A", "com.a")))
	require.NoError(t, store.SaveApp(NewAppKnowledge("B", "com.b")))

	apps, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, apps, 2)
	assert.Equal(t, "A", apps["com.a"].AppName)
	// Maps come back non-nil even for empty documents
	assert.NotNil(t, apps["com.b"].Elements)
}

func TestDeleteApp(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveApp(NewAppKnowledge("A", "com.a")))
	require.NoError(t, store.DeleteApp("com.a"))

	got, err := store.LoadApp("com.a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveAppValidation(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.SaveApp(nil))
	assert.Error(t, store.SaveApp(&AppKnowledge{}))
}

func TestLearnerRoundTripThroughStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "knowledge.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	l, err := NewLearner(store)
	require.NoError(t, err)
	l.MergeExploration("com.example.app", map[string]Screen{
		"Main_Home": {Type: "main_screen", Activity: "Main"},
	}, nil)
	l.LearnOperations("com.example.app")
	require.NoError(t, l.FlushAll())
	require.NoError(t, store.Close())

	// Reopen: a fresh learner sees the persisted knowledge
	store2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	l2, err := NewLearner(store2)
	require.NoError(t, err)
	app := l2.App("com.example.app")
	require.NotNil(t, app)
	assert.Contains(t, app.Actions, "go_back")
	assert.Contains(t, app.Screens, "Main_Home")
}
