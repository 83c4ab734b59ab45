package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCrashLogDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SRIX_AGENT_LOG_DIR", dir)

	if got := CrashLogDir(); got != dir {
		t.Errorf("CrashLogDir() = %q, want %q", got, dir)
	}
}

func TestWriteAndReadCrashLog(t *testing.T) {
	t.Setenv("SRIX_AGENT_LOG_DIR", t.TempDir())

	path, err := WriteCrashLog("test panic value", []byte("test stack trace"))
	if err != nil {
		t.Fatalf("WriteCrashLog failed: %v", err)
	}

	content, err := ReadCrashLog(filepath.Base(path))
	if err != nil {
		t.Fatalf("ReadCrashLog failed: %v", err)
	}
	if !strings.HasPrefix(content, "SRIX Agent Crash Report") {
		t.Errorf("unexpected header: %q", content[:40])
	}
	if !strings.Contains(content, "test panic value") || !strings.Contains(content, "test stack trace") {
		t.Error("crash log is missing the panic value or stack")
	}

	logs, err := GetCrashLogs(10)
	if err != nil {
		t.Fatalf("GetCrashLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Path != path {
		t.Errorf("GetCrashLogs = %+v, want the single written log", logs)
	}
}

func TestReadCrashLogRejectsPaths(t *testing.T) {
	if _, err := ReadCrashLog("../settings.json"); err == nil {
		t.Error("expected error for a path traversal filename")
	}
}

func TestGetCrashLogsMissingDir(t *testing.T) {
	t.Setenv("SRIX_AGENT_LOG_DIR", filepath.Join(t.TempDir(), "missing"))

	logs, err := GetCrashLogs(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no logs, got %d", len(logs))
	}
}

func TestCleanupOldCrashLogs(t *testing.T) {
	tmpDir := t.TempDir()

	numFiles := MaxCrashLogs + 5
	for i := 0; i < numFiles; i++ {
		timestamp := time.Now().Add(time.Duration(-numFiles+i) * time.Hour).Format("2006-01-02_15-04-05")
		path := filepath.Join(tmpDir, "crash_"+timestamp+".log")
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	nonCrashFile := filepath.Join(tmpDir, "other.log")
	if err := os.WriteFile(nonCrashFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create non-crash file: %v", err)
	}

	cleanupOldCrashLogs(tmpDir, time.Now())

	logs, err := crashLogEntries(tmpDir)
	if err != nil {
		t.Fatalf("crashLogEntries failed: %v", err)
	}
	if len(logs) != MaxCrashLogs {
		t.Errorf("expected %d crash logs, got %d", MaxCrashLogs, len(logs))
	}
	if _, err := os.Stat(nonCrashFile); err != nil {
		t.Error("Non-crash file was incorrectly deleted")
	}
}

func TestCleanupOldCrashLogsByAge(t *testing.T) {
	tmpDir := t.TempDir()

	oldFile := filepath.Join(tmpDir, "crash_2020-01-01_00-00-00.log")
	if err := os.WriteFile(oldFile, []byte("old"), 0644); err != nil {
		t.Fatalf("Failed to create old file: %v", err)
	}
	oldTime := time.Now().Add(-60 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, oldTime, oldTime); err != nil {
		t.Fatalf("Failed to set mod time: %v", err)
	}

	recentFile := filepath.Join(tmpDir, "crash_2099-01-01_00-00-00.log")
	if err := os.WriteFile(recentFile, []byte("recent"), 0644); err != nil {
		t.Fatalf("Failed to create recent file: %v", err)
	}

	cleanupOldCrashLogs(tmpDir, time.Now())

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("Old crash log was not deleted")
	}
	if _, err := os.Stat(recentFile); os.IsNotExist(err) {
		t.Error("Recent crash log was incorrectly deleted")
	}
}
