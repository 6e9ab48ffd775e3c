package routing

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrNoHome indicates the storage home root is not configured.
	ErrNoHome = errors.New("HOME environment variable not set")

	// ErrOutsideNamespace indicates a virtual path escaping its namespace
	// root or carrying another node's prefix.
	ErrOutsideNamespace = errors.New("path outside namespace")
)

// Prefix returns the virtual path prefix of a namespace, e.g. "~S1/".
func Prefix(namespace string) string {
	return "~" + namespace + "/"
}

// HasPrefix reports whether vp is rooted at namespace.
func HasPrefix(vp, namespace string) bool {
	return strings.HasPrefix(vp, Prefix(namespace))
}

// Suffix strips the namespace prefix from vp. Paths without a prefix are
// returned unchanged and treated as already relative to the namespace root.
func Suffix(vp, namespace string) string {
	if vp == "~"+namespace {
		return ""
	}
	return strings.TrimPrefix(vp, Prefix(namespace))
}

// Translate rewrites a virtual path from one namespace into another, keeping
// the suffix verbatim: Translate("~S1/a/b.pdf", "S1", "S2") is "~S2/a/b.pdf".
func Translate(vp, from, to string) string {
	return Prefix(to) + Suffix(vp, from)
}

// Join appends a filename to a directory without doubling the separator.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// Resolver maps a node's virtual paths onto its filesystem tree
// <home>/<namespace>/. It is the only place filesystem paths are built.
type Resolver struct {
	home      string
	namespace string
	root      string
}

// NewResolver creates a resolver for the namespace under home.
func NewResolver(home, namespace string) (*Resolver, error) {
	if home == "" {
		return nil, ErrNoHome
	}
	if namespace == "" || strings.ContainsAny(namespace, `/\~`) {
		return nil, fmt.Errorf("invalid namespace %q", namespace)
	}

	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, fmt.Errorf("resolve home %s: %w", home, err)
	}

	return &Resolver{
		home:      abs,
		namespace: namespace,
		root:      filepath.Join(abs, namespace),
	}, nil
}

// Namespace returns the namespace this resolver serves.
func (r *Resolver) Namespace() string {
	return r.namespace
}

// Root returns <home>/<namespace>.
func (r *Resolver) Root() string {
	return r.root
}

// TempDir returns the scratch directory used for relay buffers and archives.
func (r *Resolver) TempDir() string {
	return filepath.Join(r.root, "temp")
}

// Resolve turns a virtual path into an absolute filesystem path below
// Root. A path carrying a different namespace prefix, or one whose cleaned
// form leaves the root, is rejected with ErrOutsideNamespace.
func (r *Resolver) Resolve(vp string) (string, error) {
	if strings.HasPrefix(vp, "~") && !HasPrefix(vp, r.namespace) && vp != "~"+r.namespace {
		return "", fmt.Errorf("%w: %q is not under %s", ErrOutsideNamespace, vp, Prefix(r.namespace))
	}

	suffix := Suffix(vp, r.namespace)
	resolved := filepath.Join(r.root, filepath.FromSlash(suffix))

	if resolved != r.root && !strings.HasPrefix(resolved, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideNamespace, vp)
	}
	return resolved, nil
}

// ResolveFile resolves dir and appends name, as done for Store.
func (r *Resolver) ResolveFile(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return r.Resolve(Join(dir, name))
}
