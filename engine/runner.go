// Package engine turns dynamically supplied source text into an
// ExecutionResult. Fragments run inside an embedded ECMAScript
// interpreter wired to the host's script API; all calls must happen on
// the host tick (the bridge's marshaling queue guarantees this).
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"github.com/tliron/commonlog"

	"github.com/voxleap/tether/host"
	"github.com/voxleap/tether/protocol"
)

// ScreenshotSentinel bypasses compilation entirely and invokes the host
// capture primitive.
const ScreenshotSentinel = "TAKE_SCREENSHOT"

const (
	entryName    = "__tether_main"
	fragmentName = "fragment.js"

	// The wrapper puts user source on line 2 of the compiled unit.
	wrapperLineOffset = 1
)

var referenceErrorRe = regexp.MustCompile(`ReferenceError: ([A-Za-z_$][A-Za-z0-9_$]*) is not defined`)

// Runner executes script fragments against a host.
type Runner struct {
	host host.Host
	log  commonlog.Logger

	// tierAttempts counts module-set tiers consulted by the most recent
	// execution: 1 when the essential set plus declared references
	// sufficed, 2 when the full-set extension was needed.
	tierAttempts int
}

// NewRunner creates a Runner for the given host.
func NewRunner(h host.Host) *Runner {
	return &Runner{
		host: h,
		log:  commonlog.GetLogger("tether.engine"),
	}
}

// wrap puts the fragment inside the generated container so that the
// source can only contribute statements to the single well-known entry
// point, never top-level declarations of its own.
func wrap(source string) string {
	return fmt.Sprintf("function %s() {\n%s\n}", entryName, source)
}

// Execute compiles and runs one fragment, returning a result that is
// never a Go error: compile and runtime failures are reported inside the
// ExecutionResult so the request can be answered.
func (r *Runner) Execute(source string, references []string) *ExecutionResult {
	r.tierAttempts = 0

	if strings.TrimSpace(source) == ScreenshotSentinel {
		return r.screenshot()
	}

	wrapped := wrap(source)
	if diags := syntaxCheck(wrapped); len(diags) > 0 {
		return compileFailure(diags)
	}
	prog, err := goja.Compile(fragmentName, wrapped, false)
	if err != nil {
		// Parse succeeded, compile failed: no positions to report.
		return failure("", "Compilation Error: "+err.Error())
	}

	tier1, err := r.tier1Set(references)
	if err != nil {
		return failure("", "Compilation Error: "+err.Error())
	}

	// Module selection is fixed before the single invocation. The fragment
	// never runs twice, so its side effects apply exactly once no matter
	// which set ends up bound.
	return r.run(prog, r.selectModules(tier1, source))
}

// selectModules picks the module set for one invocation: the essential
// set plus declared references, extended with any further loaded module
// the source lexically references. Selection never executes the
// fragment.
func (r *Runner) selectModules(tier1 []host.Module, source string) []host.Module {
	selected := tier1
	seen := make(map[string]bool, len(tier1))
	for _, m := range tier1 {
		seen[m.Path] = true
	}

	extended := false
	for _, m := range r.fullSet() {
		if seen[m.Path] || !referencesIdentifier(source, m.Name) {
			continue
		}
		seen[m.Path] = true
		selected = append(selected, m)
		extended = true
	}

	r.tierAttempts = 1
	if extended {
		r.tierAttempts = 2
	}
	return selected
}

// referencesIdentifier reports whether source mentions name as a whole
// identifier. A match inside a string or comment only binds a module the
// fragment does not use, which is harmless.
func referencesIdentifier(source, name string) bool {
	re := regexp.MustCompile(`(^|[^$\w])` + regexp.QuoteMeta(name) + `($|[^$\w])`)
	return re.MatchString(source)
}

// Validate runs the compile stage only, reporting line-addressed
// diagnostics without executing anything.
func (r *Runner) Validate(source string) []protocol.Diagnostic {
	return syntaxCheck(wrap(source))
}

// TierAttempts reports how many module-set tiers the most recent
// Execute call went through.
func (r *Runner) TierAttempts() int {
	return r.tierAttempts
}

// run executes the compiled unit once against the selected module set on
// a fresh runtime.
func (r *Runner) run(prog *goja.Program, modules []host.Module) (result *ExecutionResult) {
	rt := goja.New()
	// Scripts address host objects by their wire names (obj.name, obj.id).
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	capture := &consoleCapture{}
	if err := rt.Set("console", capture.consoleObject()); err != nil {
		return failure("", "ExecutionError: "+err.Error())
	}

	for _, m := range modules {
		api, ok := r.host.API(m.Name)
		if !ok {
			r.log.Warningf("module %q has no script surface, skipping", m.Name)
			continue
		}
		if err := rt.Set(m.Name, api); err != nil {
			return failure("", fmt.Sprintf("ExecutionError: binding module %q: %s", m.Name, err))
		}
	}

	// Capture host log output for the duration of the call. The restore
	// must run even when the fragment throws or the runtime panics.
	restore := r.host.InterceptLog(capture.logSink)
	defer restore()

	defer func() {
		if rec := recover(); rec != nil {
			result = failure(capture.String(), fmt.Sprintf("ExecutionError: runtime panic: %v", rec))
		}
	}()

	if _, err := rt.RunProgram(prog); err != nil {
		return r.invocationFailure(capture, err)
	}

	entry, ok := goja.AssertFunction(rt.Get(entryName))
	if !ok {
		// Should not happen with a well-formed wrapper.
		return failure(capture.String(), "ExecutionError: generated entry point is missing")
	}

	value, err := entry(goja.Undefined())
	if err != nil {
		return r.invocationFailure(capture, err)
	}

	return &ExecutionResult{
		Success:       true,
		ReturnValue:   r.serializeValue(value),
		ConsoleOutput: capture.String(),
	}
}

// invocationFailure classifies an error raised while running the unit.
// A ReferenceError naming an identifier no loaded module provides means
// no module set could ever resolve it, which is a compilation failure of
// the fragment. A thrown ReferenceError naming a loaded module cannot be
// engine-raised (the module was bound) and stays an execution failure.
func (r *Runner) invocationFailure(capture *consoleCapture, err error) *ExecutionResult {
	if ex, ok := err.(*goja.Exception); ok {
		message := ex.Value().String()
		if m := referenceErrorRe.FindStringSubmatch(message); m != nil && !r.moduleLoaded(m[1]) {
			return failure(capture.String(),
				fmt.Sprintf("Compilation Error: unresolved reference %q", m[1]))
		}
		return failure(capture.String(), fmt.Sprintf("ExecutionError: %s\n%s", message, ex.String()))
	}
	return failure(capture.String(), "ExecutionError: "+err.Error())
}

// moduleLoaded reports whether any loaded module binds the given name.
func (r *Runner) moduleLoaded(name string) bool {
	for _, m := range r.host.Modules() {
		if m.Name == name {
			return true
		}
	}
	return false
}

// serializeValue projects a script value for the wire: host objects as a
// name/type/identity triple, structured values as JSON, everything else
// through string conversion.
func (r *Runner) serializeValue(value goja.Value) string {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "null"
	}
	switch exported := value.Export().(type) {
	case *host.Object:
		data, err := json.Marshal(map[string]any{
			"name":       exported.Name,
			"type":       exported.Kind,
			"instanceId": exported.ID,
		})
		if err != nil {
			return exported.Name
		}
		return string(data)
	case map[string]any, []any:
		if data, err := json.Marshal(exported); err == nil {
			return string(data)
		}
		return value.String()
	default:
		return value.String()
	}
}

// screenshot invokes the host capture primitive and stores the PNG under
// the project root.
func (r *Runner) screenshot() *ExecutionResult {
	data, err := r.host.CaptureScreenshot()
	if err != nil {
		return failure("", "ExecutionError: screenshot capture failed: "+err.Error())
	}

	dir := filepath.Join(r.host.ProjectRoot(), "Screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure("", "ExecutionError: "+err.Error())
	}
	name := fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return failure("", "ExecutionError: "+err.Error())
	}

	rel := filepath.ToSlash(filepath.Join("Screenshots", name))
	r.log.Infof("captured screenshot %s (%d bytes)", rel, len(data))
	return &ExecutionResult{Success: true, ReturnValue: rel}
}

// syntaxCheck parses the wrapped source, mapping positions back to
// fragment line numbers.
func syntaxCheck(wrapped string) []protocol.Diagnostic {
	_, err := parser.ParseFile(nil, fragmentName, wrapped, 0)
	if err == nil {
		return nil
	}

	var diags []protocol.Diagnostic
	if list, ok := err.(parser.ErrorList); ok {
		for _, e := range list {
			line := e.Position.Line - wrapperLineOffset
			if line < 1 {
				line = 1
			}
			diags = append(diags, protocol.Diagnostic{
				Message:  e.Message,
				Line:     line,
				Column:   e.Position.Column,
				Severity: protocol.SeverityError,
			})
		}
		return diags
	}
	return []protocol.Diagnostic{{Message: err.Error(), Severity: protocol.SeverityError}}
}

// compileFailure renders diagnostics as a terminal compile error.
func compileFailure(diags []protocol.Diagnostic) *ExecutionResult {
	var sb strings.Builder
	sb.WriteString("Compilation Error:")
	for _, d := range diags {
		sb.WriteString(fmt.Sprintf("\n  line %d: %s", d.Line, d.Message))
	}
	return &ExecutionResult{
		Success:      false,
		ErrorMessage: sb.String(),
		Diagnostics:  diags,
	}
}

// consoleCapture accumulates console writes and intercepted host log
// lines emitted during one invocation.
type consoleCapture struct {
	lines []string
}

func (c *consoleCapture) consoleObject() map[string]any {
	write := func(prefix string) func(args ...any) {
		return func(args ...any) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprintf("%v", a)
			}
			c.lines = append(c.lines, prefix+strings.Join(parts, " "))
		}
	}
	return map[string]any{
		"log":   write(""),
		"info":  write(""),
		"warn":  write("warning: "),
		"error": write("error: "),
	}
}

// logSink receives intercepted host log lines.
func (c *consoleCapture) logSink(level, message string) {
	if level == "info" {
		c.lines = append(c.lines, message)
		return
	}
	c.lines = append(c.lines, level+": "+message)
}

func (c *consoleCapture) String() string {
	return strings.Join(c.lines, "\n")
}
