// Package routing decides which node owns a file and where that file lives
// on the node's disk.
//
// The Table maps a file extension to a Route. Exactly one route is served by
// the gateway itself (Local); the others name a storage node by address.
// Tables are built once at startup and never mutated, so they are safe to
// share between connection goroutines.
package routing

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrUnsupportedType indicates an extension with no route.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNoExtension indicates a path whose final segment has no extension.
	ErrNoExtension = errors.New("no file extension")

	// ErrNotBundlable indicates a Bundle request for a category that does
	// not support archives.
	ErrNotBundlable = errors.New("file type cannot be bundled")
)

// Route describes one file category and the node that stores it.
type Route struct {
	// Extension including the leading dot, e.g. ".pdf".
	Extension string

	// Namespace is the node's directory under the home root, e.g. "S2".
	Namespace string

	// Address is host:port of the storage node, empty for the gateway-local route.
	Address string

	// BundleName is the archive filename offered to clients, e.g. "pdffiles.tar".
	BundleName string

	// Bundlable reports whether Bundle requests are accepted for this category.
	Bundlable bool
}

// Local reports whether the gateway serves this route itself.
func (r Route) Local() bool {
	return r.Address == ""
}

// BundleStem returns BundleName without its extension, e.g. "pdffiles".
func (r Route) BundleStem() string {
	return BundleStem(r.BundleName)
}

// BundleStem strips the extension from an archive name.
func BundleStem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// Table is the read-only extension to route mapping.
type Table struct {
	namespace string
	routes    []Route
	byExt     map[string]int
}

// NewTable validates routes and builds a Table. namespace is the gateway's
// own namespace; the single Local route must use it.
func NewTable(namespace string, routes []Route) (*Table, error) {
	if namespace == "" {
		return nil, errors.New("gateway namespace is required")
	}
	if len(routes) == 0 {
		return nil, errors.New("at least one route is required")
	}

	t := &Table{
		namespace: namespace,
		routes:    make([]Route, len(routes)),
		byExt:     make(map[string]int, len(routes)),
	}
	copy(t.routes, routes)

	locals := 0
	for i, r := range t.routes {
		if !strings.HasPrefix(r.Extension, ".") || len(r.Extension) < 2 {
			return nil, fmt.Errorf("route %d: invalid extension %q", i, r.Extension)
		}
		if _, dup := t.byExt[r.Extension]; dup {
			return nil, fmt.Errorf("route %d: duplicate extension %q", i, r.Extension)
		}
		if r.Namespace == "" {
			return nil, fmt.Errorf("route %d: namespace is required", i)
		}
		if r.Local() {
			locals++
			if r.Namespace != namespace {
				return nil, fmt.Errorf("route %d: local route must use namespace %q, got %q", i, namespace, r.Namespace)
			}
		}
		if r.Bundlable && r.BundleName == "" {
			return nil, fmt.Errorf("route %d: bundlable route needs a bundle name", i)
		}
		t.byExt[r.Extension] = i
	}
	if locals != 1 {
		return nil, fmt.Errorf("exactly one local route is required, got %d", locals)
	}

	return t, nil
}

// Namespace returns the gateway namespace.
func (t *Table) Namespace() string {
	return t.namespace
}

// Routes returns all routes in aggregation order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Extensions returns the routed extensions in aggregation order.
func (t *Table) Extensions() []string {
	exts := make([]string, len(t.routes))
	for i, r := range t.routes {
		exts[i] = r.Extension
	}
	return exts
}

// Lookup returns the route for an extension.
func (t *Table) Lookup(ext string) (Route, error) {
	i, ok := t.byExt[ext]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return t.routes[i], nil
}

// ForPath returns the route owning a file path, keyed by its extension.
func (t *Table) ForPath(p string) (Route, error) {
	ext := Ext(p)
	if ext == "" {
		return Route{}, fmt.Errorf("%w: %q", ErrNoExtension, p)
	}
	return t.Lookup(ext)
}

// ForBundle returns the route for a Bundle type filter.
func (t *Table) ForBundle(ext string) (Route, error) {
	r, err := t.Lookup(ext)
	if err != nil {
		return Route{}, err
	}
	if !r.Bundlable {
		return Route{}, fmt.Errorf("%w: %q", ErrNotBundlable, ext)
	}
	return r, nil
}

// Ext returns the extension of the final path segment, including the dot.
// Matching is case-sensitive.
func Ext(p string) string {
	return path.Ext(p)
}
