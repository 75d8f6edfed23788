package memhost

import (
	"encoding/json"
	"encoding/xml"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/voxleap/tether/host"
)

// API returns the script surface for a loaded module. Core modules have no
// explicit surface; unknown names report false.
func (h *Host) API(module string) (map[string]any, bool) {
	switch module {
	case "scene":
		return h.sceneAPI(), true
	case "editor":
		return h.editorAPI(), true
	case "collections":
		return collectionsAPI(), true
	case "encoding":
		return encodingAPI(), true
	case "assets":
		return h.assetsAPI(), true
	case "physics":
		return h.physicsAPI(), true
	default:
		return nil, false
	}
}

func (h *Host) sceneAPI() map[string]any {
	return map[string]any{
		"root": func() *host.Object { return h.Root() },
		"find": func(name string) *host.Object { return h.FindByName(name) },
		"get": func(id int64) *host.Object {
			obj, ok := h.Find(id)
			if !ok {
				return nil
			}
			return obj
		},
		"create":  func(name string) *host.Object { return h.Create(name) },
		"destroy": func(id int64) bool { return h.Destroy(id) },
		"rename":  func(id int64, name string) bool { return h.Rename(id, name) },
		"setActive": func(id int64, active bool) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			obj, ok := h.index[id]
			if !ok {
				return false
			}
			obj.Active = active
			return true
		},
	}
}

func (h *Host) editorAPI() map[string]any {
	return map[string]any{
		"log":  func(msg string) { h.Logf("info", "%s", msg) },
		"warn": func(msg string) { h.Logf("warning", "%s", msg) },
		"selection": func() *host.Object {
			h.mu.RLock()
			defer h.mu.RUnlock()
			return h.index[h.selection]
		},
		"selectObject": func(id int64) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.index[id]; !ok {
				return false
			}
			h.selection = id
			return true
		},
		"isPlaying": func() bool {
			h.mu.RLock()
			defer h.mu.RUnlock()
			return h.playMode
		},
		"setPlaying": func(playing bool) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.playMode = playing
		},
	}
}

func collectionsAPI() map[string]any {
	return map[string]any{
		"first": func(list []any) any {
			if len(list) == 0 {
				return nil
			}
			return list[0]
		},
		"last": func(list []any) any {
			if len(list) == 0 {
				return nil
			}
			return list[len(list)-1]
		},
		"count": func(list []any) int { return len(list) },
		"sorted": func(list []string) []string {
			out := make([]string, len(list))
			copy(out, list)
			sort.Strings(out)
			return out
		},
		"join": func(list []string, sep string) string { return strings.Join(list, sep) },
	}
}

func encodingAPI() map[string]any {
	return map[string]any{
		"toJSON": func(v any) string {
			data, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(data)
		},
		"fromJSON": func(s string) any {
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil
			}
			return v
		},
		"escapeXML": func(s string) string {
			var sb strings.Builder
			_ = xml.EscapeText(&sb, []byte(s))
			return sb.String()
		},
	}
}

func (h *Host) assetsAPI() map[string]any {
	return map[string]any{
		"list": func() []string { return h.listAssets() },
		"guid": func() string { return uuid.New().String() },
		"importAsset": func(path string) string {
			h.Logf("info", "importing asset %s", path)
			return uuid.New().String()
		},
	}
}

func (h *Host) physicsAPI() map[string]any {
	return map[string]any{
		"gravity": func() float64 {
			h.mu.RLock()
			defer h.mu.RUnlock()
			return h.gravity
		},
		"setGravity": func(g float64) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.gravity = g
		},
		"raycast": func(ox, oy, oz, dx, dy, dz float64) bool {
			// Demo physics: everything below the origin plane hits the ground.
			return dy < 0
		},
	}
}
