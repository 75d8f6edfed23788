package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxleap/tether/host/memhost"
)

func newTestRunner(t *testing.T) (*Runner, *memhost.Host) {
	t.Helper()
	h := memhost.New(t.TempDir())
	return NewRunner(h), h
}

// ---------------------------------------------------------------------------
// Execute — happy paths
// ---------------------------------------------------------------------------

func TestExecute_SimpleExpression(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("return 1+1;", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ReturnValue != "2" {
		t.Errorf("ReturnValue = %q, want %q", result.ReturnValue, "2")
	}
	if result.ConsoleOutput != "" {
		t.Errorf("ConsoleOutput = %q, want empty", result.ConsoleOutput)
	}
}

func TestExecute_StringReturn(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute(`return "hello";`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ReturnValue != "hello" {
		t.Errorf("ReturnValue = %q, want %q", result.ReturnValue, "hello")
	}
}

func TestExecute_NoReturnValue(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("var x = 1;", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ReturnValue != "null" {
		t.Errorf("ReturnValue = %q, want %q", result.ReturnValue, "null")
	}
}

func TestExecute_ConsoleCapture(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute(`console.log("one"); console.log("two", 3); return 0;`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	want := "one\ntwo 3"
	if result.ConsoleOutput != want {
		t.Errorf("ConsoleOutput = %q, want %q", result.ConsoleOutput, want)
	}
}

func TestExecute_HostLogCapture(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute(`editor.log("from the editor"); return 0;`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ConsoleOutput != "from the editor" {
		t.Errorf("ConsoleOutput = %q, want %q", result.ConsoleOutput, "from the editor")
	}
}

func TestExecute_HostObjectProjection(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute(`return scene.find("Player");`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	for _, want := range []string{`"name":"Player"`, `"type":"GameObject"`, `"instanceId"`} {
		if !strings.Contains(result.ReturnValue, want) {
			t.Errorf("ReturnValue = %q, missing %q", result.ReturnValue, want)
		}
	}
}

func TestExecute_SceneMutation(t *testing.T) {
	r, h := newTestRunner(t)

	result := r.Execute(`var o = scene.create("Enemy"); return o.id;`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if h.FindByName("Enemy") == nil {
		t.Error("scene.create should have added an Enemy object to the graph")
	}
}

// ---------------------------------------------------------------------------
// Tiered module resolution
// ---------------------------------------------------------------------------

func TestExecute_EssentialTierSuffices(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("return 1+1;", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if r.TierAttempts() != 1 {
		t.Errorf("TierAttempts = %d, want 1", r.TierAttempts())
	}
}

func TestExecute_TierFallback(t *testing.T) {
	r, _ := newTestRunner(t)

	// physics is not in the essential set and is not declared, so the
	// selection must extend to the full module set.
	result := r.Execute("return physics.gravity();", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ReturnValue != "-9.81" {
		t.Errorf("ReturnValue = %q, want %q", result.ReturnValue, "-9.81")
	}
	if r.TierAttempts() != 2 {
		t.Errorf("TierAttempts = %d, want 2", r.TierAttempts())
	}
}

func TestExecute_DeclaredReferenceAvoidsFallback(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("return physics.gravity();", []string{"physics"})
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if r.TierAttempts() != 1 {
		t.Errorf("TierAttempts = %d, want 1 (declared reference should bind in tier 1)", r.TierAttempts())
	}
}

func TestExecute_UnknownDeclaredReference(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("return 1;", []string{"quantum"})
	if result.Success {
		t.Fatal("Execute should fail with an unknown declared reference")
	}
	if !strings.Contains(result.ErrorMessage, "Compilation Error") {
		t.Errorf("ErrorMessage = %q, want a Compilation Error", result.ErrorMessage)
	}
	if !strings.Contains(result.ErrorMessage, "quantum") {
		t.Errorf("ErrorMessage = %q, should name the unknown reference", result.ErrorMessage)
	}
	if r.TierAttempts() != 0 {
		t.Errorf("TierAttempts = %d, want 0 (resolution fails before execution)", r.TierAttempts())
	}
}

func TestExecute_UnresolvedReference(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("return warp.speed;", nil)
	if result.Success {
		t.Fatal("Execute should fail when no module set resolves the reference")
	}
	if !strings.Contains(result.ErrorMessage, "Compilation Error") {
		t.Errorf("ErrorMessage = %q, want a Compilation Error", result.ErrorMessage)
	}
	if !strings.Contains(result.ErrorMessage, "warp") {
		t.Errorf("ErrorMessage = %q, should name the unresolved reference", result.ErrorMessage)
	}
	// warp matches no loaded module, so the selection never extends.
	if r.TierAttempts() != 1 {
		t.Errorf("TierAttempts = %d, want 1", r.TierAttempts())
	}
}

func TestExecute_FallbackSideEffectsApplyOnce(t *testing.T) {
	r, h := newTestRunner(t)

	// The mutation precedes the undeclared physics reference. The module
	// set is fixed before the fragment runs, so the mutation must land
	// exactly once even on the extended-set path.
	result := r.Execute(`scene.create("Spawned"); return physics.gravity();`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if r.TierAttempts() != 2 {
		t.Errorf("TierAttempts = %d, want 2", r.TierAttempts())
	}

	count := 0
	for _, child := range h.Root().Children {
		if child.Name == "Spawned" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("objects named Spawned = %d, want exactly 1", count)
	}
}

func TestExecute_ThrownReferenceErrorForBoundModule(t *testing.T) {
	r, _ := newTestRunner(t)

	// scene is a loaded module, so this exception can only come from the
	// fragment itself and must stay an execution failure.
	result := r.Execute(`throw new ReferenceError("scene is not defined");`, nil)
	if result.Success {
		t.Fatal("Execute should fail on a thrown exception")
	}
	if !strings.Contains(result.ErrorMessage, "ExecutionError") {
		t.Errorf("ErrorMessage = %q, want an ExecutionError", result.ErrorMessage)
	}
	if strings.Contains(result.ErrorMessage, "Compilation Error") {
		t.Errorf("ErrorMessage = %q, must not be reported as a compile failure", result.ErrorMessage)
	}
}

// recordingHost wraps memhost and records every API lookup, exposing the
// order in which modules were bound.
type recordingHost struct {
	*memhost.Host
	apiCalls []string
}

func (r *recordingHost) API(name string) (map[string]any, bool) {
	r.apiCalls = append(r.apiCalls, name)
	return r.Host.API(name)
}

func TestExecute_TierOrdering(t *testing.T) {
	rec := &recordingHost{Host: memhost.New(t.TempDir())}
	r := NewRunner(rec)

	result := r.Execute("return physics.gravity();", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}

	first := -1
	for i, name := range rec.apiCalls {
		if name == "physics" {
			first = i
			break
		}
	}
	if first < 0 {
		t.Fatal("physics module was never bound")
	}
	// The essential set (4 modules) is bound before any extension module.
	if first < 4 {
		t.Errorf("physics bound at position %d; extension modules bind after the essential set", first)
	}
}

// ---------------------------------------------------------------------------
// Execute — failures
// ---------------------------------------------------------------------------

func TestExecute_SyntaxError(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("return ((;", nil)
	if result.Success {
		t.Fatal("Execute should fail on a syntax error")
	}
	if !strings.Contains(result.ErrorMessage, "Compilation Error") {
		t.Errorf("ErrorMessage = %q, want a Compilation Error", result.ErrorMessage)
	}
	if len(result.Diagnostics) == 0 {
		t.Fatal("syntax errors should carry diagnostics")
	}
	if result.Diagnostics[0].Line < 1 {
		t.Errorf("Diagnostics[0].Line = %d, want >= 1", result.Diagnostics[0].Line)
	}
}

func TestExecute_SyntaxErrorLineMapping(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("var a = 1;\nvar b = ;", nil)
	if result.Success {
		t.Fatal("Execute should fail on a syntax error")
	}
	if len(result.Diagnostics) == 0 {
		t.Fatal("syntax errors should carry diagnostics")
	}
	// Positions are reported in fragment coordinates, not wrapper ones.
	if result.Diagnostics[0].Line != 2 {
		t.Errorf("Diagnostics[0].Line = %d, want 2", result.Diagnostics[0].Line)
	}
}

func TestExecute_RuntimeException(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute(`throw new Error("boom");`, nil)
	if result.Success {
		t.Fatal("Execute should fail on a thrown exception")
	}
	if !strings.Contains(result.ErrorMessage, "ExecutionError") {
		t.Errorf("ErrorMessage = %q, want an ExecutionError", result.ErrorMessage)
	}
	if !strings.Contains(result.ErrorMessage, "boom") {
		t.Errorf("ErrorMessage = %q, should carry the exception message", result.ErrorMessage)
	}
}

func TestExecute_ExceptionDoesNotDiscardConsole(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute(`console.log("before"); throw new Error("boom");`, nil)
	if result.Success {
		t.Fatal("Execute should fail on a thrown exception")
	}
	if result.ConsoleOutput != "before" {
		t.Errorf("ConsoleOutput = %q, want %q", result.ConsoleOutput, "before")
	}
}

// ---------------------------------------------------------------------------
// Log sink scoping
// ---------------------------------------------------------------------------

func TestExecute_LogSinkRemovedAfterSuccess(t *testing.T) {
	r, h := newTestRunner(t)

	result := r.Execute(`editor.log("captured"); return 0;`, nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ConsoleOutput != "captured" {
		t.Fatalf("ConsoleOutput = %q, want %q", result.ConsoleOutput, "captured")
	}

	// A second execution must capture nothing from outside its own call.
	var outside []string
	cancel := h.SubscribeLog(func(level, msg string) { outside = append(outside, msg) })
	defer cancel()

	h.Logf("info", "between executions")

	result = r.Execute("return 0;", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if result.ConsoleOutput != "" {
		t.Errorf("second execution captured unrelated output: %q", result.ConsoleOutput)
	}
	if len(outside) != 1 || outside[0] != "between executions" {
		t.Errorf("subscriber should have received the line emitted between executions, got %v", outside)
	}
}

func TestExecute_LogSinkRemovedAfterException(t *testing.T) {
	r, h := newTestRunner(t)

	result := r.Execute(`editor.log("doomed"); throw new Error("boom");`, nil)
	if result.Success {
		t.Fatal("Execute should fail on a thrown exception")
	}

	var outside []string
	cancel := h.SubscribeLog(func(level, msg string) { outside = append(outside, msg) })
	defer cancel()

	h.Logf("info", "after failure")
	if len(outside) != 1 {
		t.Errorf("log sink was not removed after a failing execution; subscriber got %v", outside)
	}
}

// ---------------------------------------------------------------------------
// Screenshot sentinel
// ---------------------------------------------------------------------------

func TestExecute_ScreenshotSentinel(t *testing.T) {
	r, h := newTestRunner(t)

	result := r.Execute("TAKE_SCREENSHOT", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if !strings.HasPrefix(result.ReturnValue, "Screenshots/screenshot-") {
		t.Fatalf("ReturnValue = %q, want a Screenshots/ path", result.ReturnValue)
	}
	path := filepath.Join(h.ProjectRoot(), filepath.FromSlash(result.ReturnValue))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("screenshot file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("screenshot file is empty")
	}
}

func TestExecute_ScreenshotSentinelTrimmed(t *testing.T) {
	r, _ := newTestRunner(t)

	result := r.Execute("  TAKE_SCREENSHOT\n", nil)
	if !result.Success {
		t.Fatalf("Execute was not successful: %s", result.ErrorMessage)
	}
	if !strings.HasPrefix(result.ReturnValue, "Screenshots/") {
		t.Errorf("ReturnValue = %q, want a Screenshots/ path", result.ReturnValue)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate_ValidSource(t *testing.T) {
	r, _ := newTestRunner(t)

	if diags := r.Validate("return 1+1;"); len(diags) != 0 {
		t.Errorf("valid source should have no diagnostics, got %d", len(diags))
	}
}

func TestValidate_InvalidSource(t *testing.T) {
	r, _ := newTestRunner(t)

	diags := r.Validate("return ((;")
	if len(diags) == 0 {
		t.Fatal("invalid source should have at least one diagnostic")
	}
	if diags[0].Severity != "error" {
		t.Errorf("Severity = %q, want %q", diags[0].Severity, "error")
	}
}
