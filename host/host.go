// Package host defines the contract the bridge expects from the editor
// application it runs inside. The editor's scene semantics, rendering and
// asset pipeline live behind this interface; the bridge only needs the
// object graph, the loaded-module registry, an interceptable log hook and
// the screenshot primitive.
package host

// Object is one node in the host's live object graph. Instance ids are
// stable for the object's lifetime and unique within the process.
type Object struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Kind       string         `json:"type"`
	Active     bool           `json:"active"`
	Children   []*Object      `json:"children"`
	Properties map[string]any `json:"properties"`
}

// Module describes one loaded host dependency. Modules whose Core flag is
// set are implicitly available to every script fragment and are excluded
// from explicit binding. Essential modules form the small tier-1 set that
// most fragments need.
type Module struct {
	Name      string
	Path      string
	Core      bool
	Essential bool
}

// LogFunc receives one host log line.
type LogFunc func(level, message string)

// Host is the surface the editor application exposes to the bridge.
//
// Thread affinity: Root, Find and every function reachable through API
// mutate or read live editor state and must only be called from the
// editor's update tick. Modules, ProjectRoot and the log hooks are safe
// from any goroutine.
type Host interface {
	// Root returns the root of the active scene graph.
	Root() *Object

	// Find returns the object with the given instance id.
	Find(id int64) (*Object, bool)

	// Modules enumerates the loaded dependency set. The slice may contain
	// duplicates; callers dedupe by resolved Path.
	Modules() []Module

	// API returns the script surface for a loaded module, keyed by the
	// global name the module is bound under. The second result is false
	// for modules the host cannot bind (core modules, unknown names).
	API(module string) (map[string]any, bool)

	// InterceptLog routes all host log lines to fn until the returned
	// restore function is called. Intercepts nest; restore reinstates
	// whatever was active before.
	InterceptLog(fn LogFunc) (restore func())

	// SubscribeLog registers a permanent log listener. Listeners observe
	// lines that are not currently intercepted.
	SubscribeLog(fn LogFunc) (cancel func())

	// CaptureScreenshot grabs the current viewport as PNG bytes.
	CaptureScreenshot() ([]byte, error)

	// ProjectRoot is the absolute path of the open project.
	ProjectRoot() string
}
