package scope

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dshills/codesearch-mcp/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxFiles caps the number of files a single scope may resolve to
	DefaultMaxFiles = 50000
)

// DefaultIgnoreDirs are never descended into while expanding a glob
var DefaultIgnoreDirs = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	".tox",
	".mypy_cache",
	".pytest_cache",
	".codesearch",
}

// Config controls scope resolution
type Config struct {
	Root           string   // working tree root
	DefaultPattern string   // used for empty patterns and literal directories
	IgnoreDirs     []string // directory names skipped during walks
	MaxFiles       int      // soft cap on resolved files
}

// Resolver expands glob patterns and literal paths into files under a root
type Resolver struct {
	root     string // absolute, cleaned
	realRoot string // root with symlinks resolved
	cfg      Config
	ignore   map[string]bool
	logger   *logrus.Logger
}

// New creates a resolver rooted at cfg.Root
func New(cfg Config, logger *logrus.Logger) (*Resolver, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.DefaultPattern == "" {
		cfg.DefaultPattern = types.DefaultFileScope
	}
	if cfg.IgnoreDirs == nil {
		cfg.IgnoreDirs = DefaultIgnoreDirs
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	ignore := make(map[string]bool, len(cfg.IgnoreDirs))
	for _, d := range cfg.IgnoreDirs {
		ignore[d] = true
	}

	return &Resolver{
		root:     root,
		realRoot: realRoot,
		cfg:      cfg,
		ignore:   ignore,
		logger:   logger,
	}, nil
}

// Root returns the absolute working tree root
func (r *Resolver) Root() string {
	return r.root
}

// Abs converts a root-relative slash path into an absolute OS path
func (r *Resolver) Abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// DefaultPattern returns the pattern used for an empty scope
func (r *Resolver) DefaultPattern() string {
	return r.cfg.DefaultPattern
}

// contained reports whether abs stays under the root once every symlink on
// the way is resolved
func (r *Resolver) contained(abs string) bool {
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.realRoot, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel converts an absolute OS path into a root-relative slash path.
// The second result is false when the path lies outside the root.
func (r *Resolver) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Ignored reports whether a root-relative path passes through a skipped directory
func (r *Resolver) Ignored(rel string) bool {
	return r.IgnoredDir(path.Dir(rel))
}

// IgnoredDir reports whether a root-relative directory is skipped, either
// itself or through one of its ancestors
func (r *Resolver) IgnoredDir(rel string) bool {
	for _, d := range strings.Split(rel, "/") {
		if d == "." || d == "" {
			continue
		}
		if r.skipDir(d) {
			return true
		}
	}
	return false
}

// InDefaultScope reports whether a root-relative file path matches the default pattern
func (r *Resolver) InDefaultScope(rel string) bool {
	if r.Ignored(rel) {
		return false
	}
	ok, err := doublestar.Match(r.cfg.DefaultPattern, rel)
	return err == nil && ok
}

// Resolve expands pattern into a sorted, deduplicated list of root-relative
// slash paths. A literal path that does not exist yields an empty list.
func (r *Resolver) Resolve(pattern string) ([]string, error) {
	p, err := r.normalize(pattern)
	if err != nil {
		return nil, err
	}

	if !hasMeta(p) {
		return r.resolveLiteral(p)
	}
	return r.resolveGlob(p)
}

// normalize rewrites pattern into a cleaned, root-relative slash pattern
func (r *Resolver) normalize(pattern string) (string, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		p = r.cfg.DefaultPattern
	}

	if filepath.IsAbs(p) {
		rel, ok := r.Rel(filepath.Clean(p))
		if !ok {
			return "", fmt.Errorf("%w: %s", types.ErrScopeOutsideRoot, pattern)
		}
		p = rel
	}

	p = path.Clean(filepath.ToSlash(p))
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: %s", types.ErrScopeOutsideRoot, pattern)
	}

	if !doublestar.ValidatePattern(p) {
		return "", fmt.Errorf("%w: invalid pattern %q", types.ErrMalformedQuery, pattern)
	}

	return p, nil
}

func (r *Resolver) resolveLiteral(p string) ([]string, error) {
	info, err := os.Lstat(r.Abs(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	// a symlinked parent directory can lead out of the tree
	if info.Mode()&fs.ModeSymlink == 0 && !r.contained(r.Abs(p)) {
		return nil, fmt.Errorf("%w: %s", types.ErrScopeOutsideRoot, p)
	}

	switch {
	case info.IsDir():
		return r.resolveGlob(path.Join(p, r.cfg.DefaultPattern))
	case info.Mode().IsRegular():
		return []string{p}, nil
	default:
		// symlinks and special files are never in scope
		return []string{}, nil
	}
}

func (r *Resolver) resolveGlob(p string) ([]string, error) {
	base, _ := doublestar.SplitPattern(p)
	start := r.Abs(base)

	if _, err := os.Lstat(start); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", base, err)
	}
	if !r.contained(start) {
		return nil, fmt.Errorf("%w: %s", types.ErrScopeOutsideRoot, base)
	}

	var files []string
	err := filepath.WalkDir(start, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, keep walking
			if d != nil && d.IsDir() && abs != start {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if abs != start && r.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, ok := r.Rel(abs)
		if !ok {
			return nil
		}
		matched, err := doublestar.Match(p, rel)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrMalformedQuery, err)
		}
		if matched {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	files = dedup(files)

	if len(files) > r.cfg.MaxFiles {
		r.logger.WithFields(logrus.Fields{
			"pattern": p,
			"matched": len(files),
			"cap":     r.cfg.MaxFiles,
		}).Warn("Scope exceeds file cap, truncating")
		files = files[:r.cfg.MaxFiles]
	}

	if files == nil {
		files = []string{}
	}
	return files, nil
}

func (r *Resolver) skipDir(name string) bool {
	return r.ignore[name] || (strings.HasPrefix(name, ".") && name != "." && name != "..")
}

// hasMeta reports whether p contains glob syntax
func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[{\`)
}

func dedup(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
