// Package scanner provides read-only introspection of host state: the
// object-graph snapshot, per-object details, and project file listings.
// Nothing here mutates the host.
package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/voxleap/tether/host"
)

// ErrNotFound reports a lookup of an instance id the host does not know.
var ErrNotFound = errors.New("object not found")

// ErrAccessDenied reports a file query whose resolved path escapes the
// project root.
var ErrAccessDenied = errors.New("access denied")

// ObjectNode is one node of a hierarchy snapshot. The snapshot is a copy
// taken at scan time, not a live view; it is stale the moment it is built.
type ObjectNode struct {
	InstanceID int64         `json:"instanceId"`
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Active     bool          `json:"active"`
	Children   []*ObjectNode `json:"children,omitempty"`
}

// PropertyInfo is one serialized object property.
type PropertyInfo struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ObjectDetails describes a single object, with its primitive-reducible
// properties serialized.
type ObjectDetails struct {
	InstanceID int64          `json:"instanceId"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Active     bool           `json:"active"`
	ChildCount int            `json:"childCount"`
	Properties []PropertyInfo `json:"properties"`
}

// FileListing is the direct content of one project directory.
type FileListing struct {
	Path        string   `json:"path"`
	Directories []string `json:"directories"`
	Files       []string `json:"files"`
}

// Scanner answers introspection queries against a host.
type Scanner struct {
	host host.Host
	log  commonlog.Logger
}

// New creates a Scanner for the given host.
func New(h host.Host) *Scanner {
	return &Scanner{
		host: h,
		log:  commonlog.GetLogger("tether.scanner"),
	}
}

// Hierarchy snapshots the full object graph from the scene root.
func (s *Scanner) Hierarchy() *ObjectNode {
	return snapshot(s.host.Root())
}

func snapshot(obj *host.Object) *ObjectNode {
	if obj == nil {
		return nil
	}
	node := &ObjectNode{
		InstanceID: obj.ID,
		Name:       obj.Name,
		Type:       obj.Kind,
		Active:     obj.Active,
	}
	for _, child := range obj.Children {
		node.Children = append(node.Children, snapshot(child))
	}
	return node
}

// ObjectDetails serializes one object by instance id. Properties that
// cannot be reduced to a primitive form are skipped with a warning; a
// single bad property never aborts the scan.
func (s *Scanner) ObjectDetails(id int64) (*ObjectDetails, error) {
	obj, ok := s.host.Find(id)
	if !ok {
		return nil, fmt.Errorf("instance id %d: %w", id, ErrNotFound)
	}

	details := &ObjectDetails{
		InstanceID: obj.ID,
		Name:       obj.Name,
		Type:       obj.Kind,
		Active:     obj.Active,
		ChildCount: len(obj.Children),
	}

	names := make([]string, 0, len(obj.Properties))
	for name := range obj.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info, ok := s.serializeProperty(name, obj.Properties[name])
		if !ok {
			s.log.Warningf("skipping property %q of object %d: not primitive-reducible", name, id)
			continue
		}
		details.Properties = append(details.Properties, info)
	}
	return details, nil
}

// serializeProperty reduces one property value to a string form. The
// second result is false for types that have no safe reduction. Recovers
// from panicking property accessors so one bad value cannot abort the
// whole scan.
func (s *Scanner) serializeProperty(name string, value any) (info PropertyInfo, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warningf("property %q panicked during serialization: %v", name, r)
			ok = false
		}
	}()

	switch v := value.(type) {
	case string:
		return PropertyInfo{Name: name, Type: "string", Value: v}, true
	case bool:
		return PropertyInfo{Name: name, Type: "bool", Value: fmt.Sprintf("%t", v)}, true
	case int:
		return PropertyInfo{Name: name, Type: "int", Value: fmt.Sprintf("%d", v)}, true
	case int64:
		return PropertyInfo{Name: name, Type: "int", Value: fmt.Sprintf("%d", v)}, true
	case float64:
		return PropertyInfo{Name: name, Type: "float", Value: fmt.Sprintf("%g", v)}, true
	case float32:
		return PropertyInfo{Name: name, Type: "float", Value: fmt.Sprintf("%g", v)}, true
	default:
		return PropertyInfo{}, false
	}
}

// ProjectFiles lists the direct children of a project directory. The
// requested path is resolved against the project root; anything that
// escapes the root is rejected with ErrAccessDenied rather than a raw
// filesystem error. This is a path-traversal gate, not an optimization.
func (s *Scanner) ProjectFiles(relPath string) (*FileListing, error) {
	root := filepath.Clean(s.host.ProjectRoot())

	if filepath.IsAbs(relPath) {
		return nil, fmt.Errorf("path %q: %w", relPath, ErrAccessDenied)
	}

	resolved := filepath.Clean(filepath.Join(root, filepath.FromSlash(relPath)))
	if !contained(root, resolved) {
		return nil, fmt.Errorf("path %q escapes project root: %w", relPath, ErrAccessDenied)
	}

	// The lexical check cannot see symlinks, so containment is checked
	// again on the fully resolved path: a link inside the project must not
	// reach outside the root either.
	if realRoot, rootErr := filepath.EvalSymlinks(root); rootErr == nil {
		realPath, pathErr := filepath.EvalSymlinks(resolved)
		if pathErr == nil {
			if !contained(realRoot, realPath) {
				return nil, fmt.Errorf("path %q escapes project root: %w", relPath, ErrAccessDenied)
			}
		} else if !os.IsNotExist(pathErr) {
			return nil, fmt.Errorf("list %q: %w", relPath, pathErr)
		}
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", relPath, err)
	}

	listing := &FileListing{
		Path:        filepath.ToSlash(relPath),
		Directories: []string{},
		Files:       []string{},
	}
	for _, entry := range entries {
		if entry.IsDir() {
			listing.Directories = append(listing.Directories, entry.Name())
		} else {
			listing.Files = append(listing.Files, entry.Name())
		}
	}
	sort.Strings(listing.Directories)
	sort.Strings(listing.Files)
	return listing, nil
}

// contained reports whether path is root itself or lies inside it.
func contained(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}
