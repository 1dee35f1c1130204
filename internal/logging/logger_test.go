package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// initWorkspace points the logging package at a temp workspace carrying the
// given config.yaml content, and resets global logger state afterwards.
func initWorkspace(t *testing.T, configYAML string) string {
	t.Helper()
	ws := t.TempDir()

	if configYAML != "" {
		dir := filepath.Join(ws, ".magetools")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir config dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		CloseAll()
		logsDir = ""
		workspace = ""
		configMu.Lock()
		config = loggingConfig{}
		configMu.Unlock()
	})
	return ws
}

func TestInitialize_RequiresWorkspace(t *testing.T) {
	if err := Initialize(""); err == nil {
		t.Error("expected error for empty workspace path")
	}
}

func TestLogging_DisabledWritesNothing(t *testing.T) {
	ws := initWorkspace(t, "") // no config = logging off

	if IsEnabled() {
		t.Error("logging should be disabled without config")
	}
	Scan("this line goes nowhere")
	Sync("neither does this")

	if _, err := os.Stat(filepath.Join(ws, ".magetools", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not be created when logging is disabled")
	}
}

func TestLogging_CategoriesWriteSeparateFiles(t *testing.T) {
	ws := initWorkspace(t, `
logging:
  enabled: true
  level: debug
`)

	Scan("scan line %d", 1)
	Sync("sync line")
	Index("index line")
	ExecError("exec error line")

	date := time.Now().Format("2006-01-02")
	for _, category := range []Category{CategoryScan, CategorySync, CategoryIndex, CategoryExec} {
		path := filepath.Join(ws, ".magetools", "logs", date+"_"+string(category)+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("category %s produced no log file: %v", category, err)
		}
		if len(data) == 0 {
			t.Errorf("category %s log file is empty", category)
		}
	}
}

func TestLogging_CategoryToggle(t *testing.T) {
	ws := initWorkspace(t, `
logging:
  enabled: true
  level: debug
  categories:
    scan: true
    sync: false
`)

	if !IsCategoryEnabled(CategoryScan) {
		t.Error("scan should be enabled")
	}
	if IsCategoryEnabled(CategorySync) {
		t.Error("sync should be disabled")
	}
	// Unlisted categories default on.
	if !IsCategoryEnabled(CategoryIndex) {
		t.Error("unlisted categories should default to enabled")
	}

	Scan("scan line")
	Sync("sync line")

	date := time.Now().Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(ws, ".magetools", "logs", date+"_scan.log")); err != nil {
		t.Errorf("scan log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, ".magetools", "logs", date+"_sync.log")); !os.IsNotExist(err) {
		t.Error("disabled sync category should not create a file")
	}
}

func TestLogging_LevelFiltering(t *testing.T) {
	ws := initWorkspace(t, `
logging:
  enabled: true
  level: warn
`)

	l := Get(CategoryScan)
	l.Debug("debug suppressed")
	l.Info("info suppressed")
	l.Warn("warn visible")
	l.Error("error visible")

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(ws, ".magetools", "logs", date+"_scan.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "suppressed") {
		t.Errorf("below-level lines leaked into log: %s", content)
	}
	if !strings.Contains(content, "warn visible") || !strings.Contains(content, "error visible") {
		t.Errorf("expected warn and error lines, got: %s", content)
	}
}

// The level gate is checked on every log call while ReloadConfig may
// rewrite it from another goroutine; the race detector keeps this honest.
func TestLogging_ConcurrentReload(t *testing.T) {
	initWorkspace(t, `
logging:
  enabled: true
  level: debug
`)

	l := Get(CategoryScan)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := ReloadConfig(); err != nil {
				t.Errorf("ReloadConfig failed: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 50; i++ {
		l.Debug("line %d", i)
		l.Info("line %d", i)
	}
	<-done
}

func TestTimer_StopVariants(t *testing.T) {
	ws := initWorkspace(t, `
logging:
  enabled: true
  level: debug
`)

	timer := StartTimer(CategoryScan, "fast-op")
	if elapsed := timer.Stop(); elapsed < 0 {
		t.Error("elapsed must be non-negative")
	}

	timer = StartTimer(CategoryScan, "slow-op")
	time.Sleep(5 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond) // over threshold, logs a warning

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(ws, ".magetools", "logs", date+"_scan.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "slow-op took") {
		t.Errorf("expected threshold warning, got: %s", string(data))
	}
}

func TestGet_NoopWhenUninitialized(t *testing.T) {
	// Never initialized: Get must hand back a safe no-op logger.
	l := Get(CategoryBoot)
	l.Info("does not panic")
	l.Error("does not panic either")
}
