// Package memhost is an in-memory editor host. It backs tetherd's demo
// mode and the test suites: a small scene graph, a module registry with
// essential and optional modules, a log hub with nestable interception,
// and a synthetic screenshot primitive.
package memhost

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/voxleap/tether/host"
)

// Host is an in-memory implementation of host.Host.
//
// The bridge's marshaling queue serializes all script access to the scene
// graph, but the graph is still mutex-guarded so tests and the log hub can
// probe it from other goroutines.
type Host struct {
	mu          sync.RWMutex
	root        *host.Object
	index       map[int64]*host.Object
	selection   int64
	playMode    bool
	gravity     float64
	projectRoot string

	nextID atomic.Int64

	logMu       sync.Mutex
	intercepts  []host.LogFunc
	subscribers map[int]host.LogFunc
	nextSubID   int

	modules []host.Module
}

// New creates a memhost with the demo scene loaded and projectRoot as the
// open project directory.
func New(projectRoot string) *Host {
	h := &Host{
		index:       make(map[int64]*host.Object),
		subscribers: make(map[int]host.LogFunc),
		gravity:     -9.81,
		projectRoot: projectRoot,
	}
	h.nextID.Store(1000)
	h.modules = defaultModules()
	h.loadDemoScene()
	return h
}

// defaultModules mirrors the loaded dependency set of a real editor:
// core modules implicitly available to every fragment, the small essential
// set, and optional modules only bound on demand. The duplicated physics
// entry exercises dedup-by-resolved-path in the execution engine.
func defaultModules() []host.Module {
	return []host.Module{
		{Name: "runtime", Path: "/opt/voxleap/lib/runtime.vxm", Core: true},
		{Name: "stdlib", Path: "/opt/voxleap/lib/stdlib.vxm", Core: true},
		{Name: "scene", Path: "/opt/voxleap/lib/scene.vxm", Essential: true},
		{Name: "editor", Path: "/opt/voxleap/lib/editor.vxm", Essential: true},
		{Name: "collections", Path: "/opt/voxleap/lib/collections.vxm", Essential: true},
		{Name: "encoding", Path: "/opt/voxleap/lib/encoding.vxm", Essential: true},
		{Name: "assets", Path: "/opt/voxleap/lib/assets.vxm"},
		{Name: "physics", Path: "/opt/voxleap/lib/physics.vxm"},
		{Name: "physics", Path: "/opt/voxleap/lib/physics.vxm"},
	}
}

func (h *Host) loadDemoScene() {
	h.root = &host.Object{
		ID:     h.nextID.Add(1),
		Name:   "Scene",
		Kind:   "Scene",
		Active: true,
	}
	h.index[h.root.ID] = h.root

	camera := h.newObject("Main Camera", "Camera", map[string]any{
		"fieldOfView": 60.0,
		"nearPlane":   0.3,
		"farPlane":    1000.0,
		"orthographic": false,
	})
	light := h.newObject("Directional Light", "Light", map[string]any{
		"intensity": 1.0,
		"color":     "#FFF4D6",
	})
	player := h.newObject("Player", "GameObject", map[string]any{
		"speed":  5.5,
		"health": 100,
		// Not reducible to a primitive; the scanner must skip these.
		"tags":     []string{"player", "controllable"},
		"position": map[string]float64{"x": 0, "y": 1, "z": 0},
	})
	weapon := h.newObject("Weapon", "GameObject", map[string]any{
		"damage": 12,
		"ranged": false,
	})
	ground := h.newObject("Ground", "GameObject", map[string]any{
		"static": true,
	})

	player.Children = append(player.Children, weapon)
	h.root.Children = append(h.root.Children, camera, light, player, ground)
}

func (h *Host) newObject(name, kind string, props map[string]any) *host.Object {
	obj := &host.Object{
		ID:         h.nextID.Add(1),
		Name:       name,
		Kind:       kind,
		Active:     true,
		Properties: props,
	}
	h.index[obj.ID] = obj
	return obj
}

// --- host.Host: object graph ---

// Root returns the scene root.
func (h *Host) Root() *host.Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

// Find returns the object with the given instance id.
func (h *Host) Find(id int64) (*host.Object, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.index[id]
	return obj, ok
}

// Create adds a new object under the scene root and returns it.
func (h *Host) Create(name string) *host.Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj := h.newObject(name, "GameObject", map[string]any{})
	h.root.Children = append(h.root.Children, obj)
	return obj
}

// Destroy removes the object with the given id from the graph.
// The scene root cannot be destroyed.
func (h *Host) Destroy(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == h.root.ID {
		return false
	}
	if _, ok := h.index[id]; !ok {
		return false
	}
	h.detach(h.root, id)
	delete(h.index, id)
	return true
}

func (h *Host) detach(parent *host.Object, id int64) bool {
	for i, child := range parent.Children {
		if child.ID == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return true
		}
		if h.detach(child, id) {
			return true
		}
	}
	return false
}

// Rename changes an object's name.
func (h *Host) Rename(id int64, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.index[id]
	if !ok {
		return false
	}
	obj.Name = name
	return true
}

// FindByName returns the first object with the given name, depth-first.
func (h *Host) FindByName(name string) *host.Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return findByName(h.root, name)
}

func findByName(obj *host.Object, name string) *host.Object {
	if obj.Name == name {
		return obj
	}
	for _, child := range obj.Children {
		if found := findByName(child, name); found != nil {
			return found
		}
	}
	return nil
}

// --- host.Host: modules ---

// Modules enumerates the loaded dependency set, duplicates included.
func (h *Host) Modules() []host.Module {
	out := make([]host.Module, len(h.modules))
	copy(out, h.modules)
	return out
}

// --- host.Host: logging ---

// Logf emits one host log line into the hub.
func (h *Host) Logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	h.logMu.Lock()
	var sink host.LogFunc
	if n := len(h.intercepts); n > 0 {
		sink = h.intercepts[n-1]
	}
	var subs []host.LogFunc
	if sink == nil {
		subs = make([]host.LogFunc, 0, len(h.subscribers))
		for _, fn := range h.subscribers {
			subs = append(subs, fn)
		}
	}
	h.logMu.Unlock()

	if sink != nil {
		sink(level, msg)
		return
	}
	for _, fn := range subs {
		fn(level, msg)
	}
}

// InterceptLog routes host log lines to fn until restore is called.
func (h *Host) InterceptLog(fn host.LogFunc) (restore func()) {
	h.logMu.Lock()
	h.intercepts = append(h.intercepts, fn)
	depth := len(h.intercepts)
	h.logMu.Unlock()

	return func() {
		h.logMu.Lock()
		defer h.logMu.Unlock()
		if len(h.intercepts) >= depth {
			h.intercepts = h.intercepts[:depth-1]
		}
	}
}

// SubscribeLog registers a permanent log listener.
func (h *Host) SubscribeLog(fn host.LogFunc) (cancel func()) {
	h.logMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = fn
	h.logMu.Unlock()

	return func() {
		h.logMu.Lock()
		defer h.logMu.Unlock()
		delete(h.subscribers, id)
	}
}

// --- host.Host: capture and project ---

// CaptureScreenshot renders a synthetic 64x64 viewport as PNG bytes.
func (h *Host) CaptureScreenshot() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 96, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ProjectRoot is the absolute path of the open project.
func (h *Host) ProjectRoot() string {
	return h.projectRoot
}

// SeedProject writes the demo project layout under the project root so
// file queries have something to list.
func (h *Host) SeedProject() error {
	dirs := []string{
		filepath.Join(h.projectRoot, "Assets"),
		filepath.Join(h.projectRoot, "Assets", "Materials"),
		filepath.Join(h.projectRoot, "Assets", "Scenes"),
		filepath.Join(h.projectRoot, "Settings"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	files := map[string]string{
		filepath.Join(h.projectRoot, "Assets", "Scenes", "Main.scene"): "scene Main\n",
		filepath.Join(h.projectRoot, "Assets", "readme.txt"):           "demo project\n",
		filepath.Join(h.projectRoot, "Settings", "editor.toml"):        "[editor]\n",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// listAssets returns project-relative paths of files under Assets/.
func (h *Host) listAssets() []string {
	assets := filepath.Join(h.projectRoot, "Assets")
	var out []string
	_ = filepath.WalkDir(assets, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(h.projectRoot, path); relErr == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	return out
}
