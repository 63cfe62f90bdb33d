package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func resetLoggingState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	settings = Settings{}
	auditLogger = nil
	auditOnce = sync.Once{}
}

// TestAllCategoriesLog tests that all categories create log files when debug mode is on
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	resetLoggingState()
	err := Initialize(tempDir, Settings{
		DebugMode: true,
		Level:     "debug",
		Categories: map[string]bool{
			"boot": true, "server": true, "device": true, "session": true,
			"explore": true, "knowledge": true, "planner": true, "store": true,
		},
	})
	if err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategoryServer,
		CategoryDevice,
		CategorySession,
		CategoryExplore,
		CategoryKnowledge,
		CategoryPlanner,
		CategoryStore,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}

		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	// Also test convenience functions
	Server("Convenience server log")
	Device("Convenience device log")
	Session("Convenience session log")
	Explore("Convenience explore log")
	Knowledge("Convenience knowledge log")
	Planner("Convenience planner log")
	Store("Convenience store log")

	// Close all loggers to flush
	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".appscout", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	t.Logf("Created %d log files in %s", len(entries), logsPath)

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("Failed to read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("Log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("No log file found for category: %s", cat)
		}
	}
}

// TestDebugModeDisabled tests that no logs are created when debug mode is off
func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()

	resetLoggingState()
	err := Initialize(tempDir, Settings{
		DebugMode:  false,
		Level:      "debug",
		Categories: map[string]bool{"boot": true, "server": true},
	})
	if err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsDebugMode() {
		t.Error("Expected debug mode to be DISABLED (production mode)")
	}

	for _, cat := range []Category{CategoryBoot, CategoryServer, CategoryExplore} {
		if IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be DISABLED when debug_mode=false", cat)
		}
	}

	// Try to log - should be no-ops
	Server("This should NOT be logged")
	Explore("This should NOT be logged")

	logger := Get(CategoryBoot)
	logger.Info("This should NOT be logged")
	logger.Debug("This should NOT be logged")
	logger.Error("This should NOT be logged")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".appscout", "logs")
	if _, err := os.Stat(logsPath); err == nil {
		entries, _ := os.ReadDir(logsPath)
		if len(entries) > 0 {
			t.Errorf("Expected NO log files in production mode, but found %d files", len(entries))
		}
	}
}

// TestCategoryToggle tests individual category enable/disable
func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()

	resetLoggingState()
	err := Initialize(tempDir, Settings{
		DebugMode: true,
		Level:     "debug",
		Categories: map[string]bool{
			"boot":    true,
			"server":  true,
			"explore": false,
			"planner": false,
		},
	})
	if err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot should be enabled")
	}
	if !IsCategoryEnabled(CategoryServer) {
		t.Error("server should be enabled")
	}
	if IsCategoryEnabled(CategoryExplore) {
		t.Error("explore should be DISABLED")
	}
	if IsCategoryEnabled(CategoryPlanner) {
		t.Error("planner should be DISABLED")
	}

	// Category not in config defaults to enabled when debug mode is on
	if !IsCategoryEnabled(CategoryKnowledge) {
		t.Error("knowledge (not in config) should default to enabled")
	}

	Server("This SHOULD be logged")
	Explore("This should NOT be logged")
	Planner("This should NOT be logged")
	Knowledge("This SHOULD be logged (default enabled)")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".appscout", "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasServer, hasExplore, hasPlanner bool
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, "server") {
			hasServer = true
		}
		if strings.Contains(name, "explore") {
			hasExplore = true
		}
		if strings.Contains(name, "planner") {
			hasPlanner = true
		}
	}

	if !hasServer {
		t.Error("Expected server log file")
	}
	if hasExplore {
		t.Error("Should NOT have explore log file (disabled)")
	}
	if hasPlanner {
		t.Error("Should NOT have planner log file (disabled)")
	}
}

// TestTimerLogging tests the timing helper
func TestTimerLogging(t *testing.T) {
	tempDir := t.TempDir()

	resetLoggingState()
	Initialize(tempDir, Settings{DebugMode: true, Level: "debug"})

	timer := StartTimer(CategoryDevice, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()

	if elapsed <= 0 {
		t.Error("Timer should have recorded non-zero duration")
	}

	CloseAll()
	CloseAudit()
}

// TestAuditTrail verifies audit events land in audit.jsonl
func TestAuditTrail(t *testing.T) {
	tempDir := t.TempDir()

	resetLoggingState()
	if err := Initialize(tempDir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	AuditRequest("device-1", "req-abc", "click")
	AuditResponse("device-1", "req-abc", true, 42, "")
	AuditTimeout("device-1", "req-def", "get_ui_state")
	AuditScreen("sess-1", "com.example.app", "MainActivity_Home", 7)

	CloseAudit()

	data, err := os.ReadFile(filepath.Join(tempDir, ".appscout", "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 audit lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "request_sent") {
		t.Errorf("First line should be request_sent: %s", lines[0])
	}
	if !strings.Contains(lines[2], "request_timeout") {
		t.Errorf("Third line should be request_timeout: %s", lines[2])
	}
}
