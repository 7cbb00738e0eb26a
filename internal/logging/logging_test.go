// Package logging tests for the structured logger.
package logging

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"os"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

// TestInfo_structuredFields verifies entries serialize as JSON with fields.
func TestInfo_structuredFields(t *testing.T) {
	buf := captureOutput(t)

	Info("sync pass completed", Fields{"uploaded": 3, "table": "invoices"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "sync pass completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["table"] != "invoices" {
		t.Errorf("table field = %v", entry["table"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
}

// TestError_includesCause verifies the error field rides along.
func TestError_includesCause(t *testing.T) {
	buf := captureOutput(t)

	Error("upload failed", stderrors.New("connection refused"), Fields{"retry": 2})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["error"] != "connection refused" {
		t.Errorf("error field = %v", entry["error"])
	}
}

// TestDebug_suppressedAtInfo verifies level filtering.
func TestDebug_suppressedAtInfo(t *testing.T) {
	Init(Config{Level: "info"})
	buf := captureOutput(t)

	Debug("noise", nil)
	if buf.Len() != 0 {
		t.Errorf("debug line emitted at info level: %q", buf.String())
	}

	Init(Config{Level: "debug"})
	defer Init(Config{Level: "info"})
	SetOutput(buf)

	Debug("visible", nil)
	if buf.Len() == 0 {
		t.Error("debug line missing at debug level")
	}
}
