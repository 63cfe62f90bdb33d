package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"appscout/internal/logging"
)

// Store persists AppKnowledge documents keyed by package name.
type Store interface {
	SaveApp(app *AppKnowledge) error
	LoadApp(packageName string) (*AppKnowledge, error)
	LoadAll() (map[string]*AppKnowledge, error)
	DeleteApp(packageName string) error
	Close() error
}

// SQLiteStore keeps app knowledge in a local SQLite database. Each app is
// one row with the full document as JSON; reads are by package name or all
// at once at startup.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates or opens the knowledge database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	if dbPath == "" {
		return nil, fmt.Errorf("database path required")
	}

	logging.Store("Initializing knowledge store at: %s", dbPath)

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("Knowledge store initialized successfully")
	return store, nil
}

// initializeSchema creates the app knowledge table.
func (s *SQLiteStore) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS app_knowledge (
		package_name TEXT PRIMARY KEY,
		app_name TEXT NOT NULL,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_app_knowledge_app_name ON app_knowledge(app_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create app_knowledge table: %w", err)
	}
	return nil
}

// SaveApp upserts one app's knowledge document.
func (s *SQLiteStore) SaveApp(app *AppKnowledge) error {
	if app == nil || app.PackageName == "" {
		return fmt.Errorf("app knowledge requires a package name")
	}

	document, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal knowledge for %s: %w", app.PackageName, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO app_knowledge (package_name, app_name, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(package_name) DO UPDATE SET
			app_name = excluded.app_name,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		app.PackageName, app.AppName, string(document), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save knowledge for %s: %w", app.PackageName, err)
	}

	logging.StoreDebug("saved knowledge for %s (%d bytes)", app.PackageName, len(document))
	return nil
}

// LoadApp reads one app's knowledge document. Returns nil without error
// when the package is unknown.
func (s *SQLiteStore) LoadApp(packageName string) (*AppKnowledge, error) {
	var document string
	err := s.db.QueryRow(
		`SELECT document FROM app_knowledge WHERE package_name = ?`,
		packageName).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load knowledge for %s: %w", packageName, err)
	}

	return decodeDocument(packageName, document)
}

// LoadAll reads every app's knowledge document.
func (s *SQLiteStore) LoadAll() (map[string]*AppKnowledge, error) {
	rows, err := s.db.Query(`SELECT package_name, document FROM app_knowledge`)
	if err != nil {
		return nil, fmt.Errorf("load all knowledge: %w", err)
	}
	defer rows.Close()

	apps := make(map[string]*AppKnowledge)
	for rows.Next() {
		var packageName, document string
		if err := rows.Scan(&packageName, &document); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		app, err := decodeDocument(packageName, document)
		if err != nil {
			// One corrupt row must not poison the whole knowledge base
			logging.StoreError("skipping corrupt knowledge for %s: %v", packageName, err)
			continue
		}
		apps[packageName] = app
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge rows: %w", err)
	}
	return apps, nil
}

// DeleteApp removes one app's knowledge.
func (s *SQLiteStore) DeleteApp(packageName string) error {
	if _, err := s.db.Exec(`DELETE FROM app_knowledge WHERE package_name = ?`, packageName); err != nil {
		return fmt.Errorf("delete knowledge for %s: %w", packageName, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeDocument(packageName, document string) (*AppKnowledge, error) {
	var app AppKnowledge
	if err := json.Unmarshal([]byte(document), &app); err != nil {
		return nil, fmt.Errorf("decode knowledge for %s: %w", packageName, err)
	}
	if app.Elements == nil {
		app.Elements = make(map[string]Element)
	}
	if app.Screens == nil {
		app.Screens = make(map[string]Screen)
	}
	if app.Actions == nil {
		app.Actions = make(map[string]Action)
	}
	return &app, nil
}
