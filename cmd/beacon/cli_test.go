package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/config"
	"github.com/hpungsan/beacon/internal/ops"
	"github.com/hpungsan/beacon/internal/web"
)

// setupRuntime opens a runtime over a temporary database.
func setupRuntime(t *testing.T) *runtime {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DefaultUserID = "default-user"

	rt, err := openRuntime(context.Background(), t.TempDir(), cfg, nil)
	if err != nil {
		t.Fatalf("failed to open runtime: %v", err)
	}
	t.Cleanup(func() {
		if err := rt.Close(); err != nil {
			t.Errorf("close runtime: %v", err)
		}
	})
	return rt
}

// runCLI runs the app with args and returns what it wrote to stdout.
func runCLI(t *testing.T, rt *runtime, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(rt)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := app.Run(append([]string{"beacon"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

// TestParseDuration tests the parseDuration helper function.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int
		expectError bool
	}{
		{name: "valid days", input: "7d", expected: 7},
		{name: "zero days", input: "0d", expected: 0},
		{name: "large number", input: "365d", expected: 365},
		{name: "negative days", input: "-7d", expectError: true},
		{name: "no suffix", input: "7", expectError: true},
		{name: "wrong suffix", input: "7h", expectError: true},
		{name: "invalid number", input: "abcd", expectError: true},
		{name: "empty string", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseDuration(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

// TestParseAssignments tests field=value parsing and ordering.
func TestParseAssignments(t *testing.T) {
	p, err := parseAssignments([]string{
		"energyLevel=40",
		"availabilityStatus=away",
		"focusSessionActive=true",
		"focusSessionStart=null",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []capsule.Field{"energyLevel", "availabilityStatus", "focusSessionActive", "focusSessionStart"}
	got := p.Fields()
	if len(got) != len(wantOrder) {
		t.Fatalf("fields = %v, want %v", got, wantOrder)
	}
	for i := range wantOrder {
		if got[i] != wantOrder[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], wantOrder[i])
		}
	}

	if v, _ := p.Get("energyLevel"); v != float64(40) {
		t.Errorf("energyLevel = %#v, want 40", v)
	}
	if v, _ := p.Get("availabilityStatus"); v != "away" {
		t.Errorf("availabilityStatus = %#v, want away", v)
	}
	if v, _ := p.Get("focusSessionActive"); v != true {
		t.Errorf("focusSessionActive = %#v, want true", v)
	}
	if v, ok := p.Get("focusSessionStart"); !ok || v != nil {
		t.Errorf("focusSessionStart = %#v, want nil", v)
	}

	errorCases := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"missing equals", []string{"energyLevel"}},
		{"empty field", []string{"=5"}},
		{"duplicate field", []string{"energyLevel=5", "energyLevel=6"}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseAssignments(tt.args); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"42", float64(42)},
		{"false", false},
		{"null", nil},
		{`"quoted"`, "quoted"},
		{"Europe/Berlin", "Europe/Berlin"},
		{" away ", "away"},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := parseValue(tt.input); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

// TestCLISetAndStatus tests the set and status commands.
func TestCLISetAndStatus(t *testing.T) {
	rt := setupRuntime(t)

	out, err := runCLI(t, rt, "set", "energyLevel=30", "availabilityStatus=busy")
	if err != nil {
		t.Fatalf("set command failed: %v", err)
	}
	var setOutput ops.UpdateContextOutput
	if err := json.Unmarshal([]byte(out), &setOutput); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if setOutput.FieldChanged != "energyLevel" {
		t.Errorf("field_changed = %q, want energyLevel", setOutput.FieldChanged)
	}
	if setOutput.Context.UserID != "default-user" {
		t.Errorf("user = %q, want default-user", setOutput.Context.UserID)
	}

	out, err = runCLI(t, rt, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	var status ops.GetContextOutput
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if status.Context.EnergyLevel != 30 || status.Context.AvailabilityStatus != "busy" {
		t.Errorf("context = %+v", status.Context)
	}

	t.Run("user flag", func(t *testing.T) {
		if _, err := runCLI(t, rt, "--user", "other", "set", "energyLevel=90"); err != nil {
			t.Fatalf("set command failed: %v", err)
		}
		out, err := runCLI(t, rt, "-u", "other", "status")
		if err != nil {
			t.Fatalf("status command failed: %v", err)
		}
		var other ops.GetContextOutput
		if err := json.Unmarshal([]byte(out), &other); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if other.Context.UserID != "other" || other.Context.EnergyLevel != 90 {
			t.Errorf("context = %+v", other.Context)
		}
	})
}

// TestCLIHistory tests the history command and purge subcommand.
func TestCLIHistory(t *testing.T) {
	rt := setupRuntime(t)

	for _, arg := range []string{"energyLevel=10", "energyLevel=20", "energyLevel=30"} {
		if _, err := runCLI(t, rt, "set", arg); err != nil {
			t.Fatalf("set %s failed: %v", arg, err)
		}
	}

	out, err := runCLI(t, rt, "history", "--limit", "2")
	if err != nil {
		t.Fatalf("history command failed: %v", err)
	}
	var history ops.ListHistoryOutput
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if len(history.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(history.Items))
	}
	if !history.Pagination.HasMore || history.Pagination.Total != 3 {
		t.Errorf("pagination = %+v", history.Pagination)
	}

	out, err = runCLI(t, rt, "history", "purge")
	if err != nil {
		t.Fatalf("purge command failed: %v", err)
	}
	var purged ops.PurgeHistoryOutput
	if err := json.Unmarshal([]byte(out), &purged); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if purged.Purged != 3 {
		t.Errorf("purged = %d, want 3", purged.Purged)
	}
}

// TestCLIHooks tests the hooks command group end to end.
func TestCLIHooks(t *testing.T) {
	rt := setupRuntime(t)

	out, err := runCLI(t, rt, "hooks", "add",
		"--name", "low energy",
		"--preset", "energy_low",
		"--action", "notification",
		"--config", `{"message":"take a break"}`)
	if err != nil {
		t.Fatalf("hooks add failed: %v", err)
	}
	var created ops.HookOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	id := created.Hook.ID
	if id == "" || !created.Hook.IsActive {
		t.Fatalf("hook = %+v", created.Hook)
	}

	t.Run("list", func(t *testing.T) {
		out, err := runCLI(t, rt, "hooks", "list")
		if err != nil {
			t.Fatalf("hooks list failed: %v", err)
		}
		var list ops.ListHooksOutput
		if err := json.Unmarshal([]byte(out), &list); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(list.Items) != 1 || list.Items[0].ID != id {
			t.Errorf("items = %+v", list.Items)
		}
	})

	t.Run("toggle", func(t *testing.T) {
		out, err := runCLI(t, rt, "hooks", "toggle", "--off", id)
		if err != nil {
			t.Fatalf("hooks toggle failed: %v", err)
		}
		var toggled ops.HookOutput
		if err := json.Unmarshal([]byte(out), &toggled); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if toggled.Hook.IsActive {
			t.Error("expected hook to be inactive")
		}

		out, err = runCLI(t, rt, "hooks", "list", "--active-only")
		if err != nil {
			t.Fatalf("hooks list failed: %v", err)
		}
		var list ops.ListHooksOutput
		if err := json.Unmarshal([]byte(out), &list); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if len(list.Items) != 0 {
			t.Errorf("expected no active hooks, got %d", len(list.Items))
		}

		if _, err := runCLI(t, rt, "hooks", "toggle", "--on", "--off", id); err == nil {
			t.Error("expected error for --on with --off")
		}
	})

	t.Run("test", func(t *testing.T) {
		if _, err := runCLI(t, rt, "set", "energyLevel=10"); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		out, err := runCLI(t, rt, "hooks", "test", id)
		if err != nil {
			t.Fatalf("hooks test failed: %v", err)
		}
		var result ops.TestHookOutput
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if !result.Success {
			t.Errorf("expected success, got %+v", result)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if _, err := runCLI(t, rt, "hooks", "delete", id); err != nil {
			t.Fatalf("hooks delete failed: %v", err)
		}
		if _, err := runCLI(t, rt, "hooks", "delete", id); err == nil {
			t.Error("expected error deleting twice")
		}
	})
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	rt := setupRuntime(t)

	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		// cli.Exit writes to stderr, so just verify the error is returned
		{"status before any update", []string{"status"}, "NOT_FOUND"},
		{"set without fields", []string{"set"}, "INVALID_REQUEST"},
		{"set unknown field", []string{"set", "mood=happy"}, "INVALID_REQUEST"},
		{"set out of range", []string{"set", "energyLevel=150"}, "INVALID_REQUEST"},
		{"invalid duration", []string{"history", "purge", "--older-than=invalid"}, "INVALID_REQUEST"},
		{"hook bad config json", []string{"hooks", "add", "--name", "x", "--preset", "status_change", "--action", "webhook", "--config", "{"}, "INVALID_REQUEST"},
		{"hook unknown action", []string{"hooks", "add", "--name", "x", "--preset", "status_change", "--action", "sms"}, "UNRECOGNIZED_ACTION"},
		{"toggle missing hook", []string{"hooks", "toggle", "missing"}, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, rt, tt.args...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

// lockedBuffer is a bytes.Buffer safe for one writer and one reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

// TestWatchSession tests that watch prints a snapshot and then each update.
func TestWatchSession(t *testing.T) {
	rt := setupRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := rt.sessions.Get(ctx, "watcher")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	var out lockedBuffer
	done := make(chan error, 1)
	go func() { done <- watchSession(ctx, s, &out) }()

	waitLines := func(n int) []string {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if lines := out.lines(); len(lines) >= n && lines[0] != "" {
				return lines
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d lines, got %q", n, out.lines())
		return nil
	}

	waitLines(1)
	if _, err := ops.UpdateContext(ctx, rt.sessions, ops.UpdateContextInput{
		UserID: "watcher",
		Patch:  capsule.NewPatch().Set(capsule.FieldAvailabilityStatus, "dnd"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	lines := waitLines(2)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchSession returned %v", err)
	}

	var snapshot, update web.StreamMessage
	if err := json.Unmarshal([]byte(lines[0]), &snapshot); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if snapshot.Type != web.StreamSnapshot || snapshot.Context.UserID != "watcher" {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if err := json.Unmarshal([]byte(lines[1]), &update); err != nil {
		t.Fatalf("parse update: %v", err)
	}
	if update.Type != web.StreamContextUpdate || update.Context.AvailabilityStatus != "dnd" {
		t.Errorf("update = %+v", update)
	}
	if update.Entry == nil || update.Entry.FieldChanged != "availabilityStatus" {
		t.Errorf("entry = %+v", update.Entry)
	}
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"beacon"}, false},
		{"status command", []string{"beacon", "status"}, true},
		{"hooks command", []string{"beacon", "hooks", "list"}, true},
		{"serve command", []string{"beacon", "serve"}, true},
		{"user flag before command", []string{"beacon", "--user", "ana", "status"}, true},
		{"user flag alone", []string{"beacon", "-u", "ana"}, false},
		{"help flag", []string{"beacon", "--help"}, true},
		{"short version flag", []string{"beacon", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"beacon", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := isCLIMode(tt.args); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"beacon"}, false},
		{"help command", []string{"beacon", "help"}, true},
		{"long help", []string{"beacon", "--help"}, true},
		{"version", []string{"beacon", "--version"}, true},
		{"subcommand", []string{"beacon", "status"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := isHelpOrVersion(tt.args); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}
