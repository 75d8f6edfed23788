package engine

import "github.com/voxleap/tether/protocol"

// ExecutionResult is the outcome of one fragment execution. Success=false
// always carries a non-empty ErrorMessage; ReturnValue is only meaningful
// on success.
type ExecutionResult struct {
	Success       bool
	ReturnValue   string
	ConsoleOutput string
	ErrorMessage  string
	Diagnostics   []protocol.Diagnostic
}

// Payload renders the result as a response payload map.
func (r *ExecutionResult) Payload() map[string]any {
	if r.Success {
		return map[string]any{
			"returnValue":   r.ReturnValue,
			"consoleOutput": r.ConsoleOutput,
		}
	}
	payload := map[string]any{
		"errorMessage":  r.ErrorMessage,
		"consoleOutput": r.ConsoleOutput,
	}
	if len(r.Diagnostics) > 0 {
		diags := make([]map[string]any, 0, len(r.Diagnostics))
		for _, d := range r.Diagnostics {
			diags = append(diags, map[string]any{
				"message":  d.Message,
				"line":     d.Line,
				"column":   d.Column,
				"severity": d.Severity,
			})
		}
		payload["diagnostics"] = diags
	}
	return payload
}

// failure builds an unsuccessful result with the given message.
func failure(console, message string) *ExecutionResult {
	return &ExecutionResult{
		Success:       false,
		ConsoleOutput: console,
		ErrorMessage:  message,
	}
}
