package output

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/valyala/fasttemplate"
)

// DefaultPathTemplate places artifacts under countries/ in the output dir.
const DefaultPathTemplate = "countries/{code}.{ext}"

var (
	ErrBadTemplate = errors.New("path template must contain {code}")
	ErrBadCode     = errors.New("country code is not a valid file name")
)

// Layout maps a country code to artifact paths below a root directory.
type Layout struct {
	root string
	tmpl *fasttemplate.Template
}

func NewLayout(root, pattern string) (*Layout, error) {
	if pattern == "" {
		pattern = DefaultPathTemplate
	}
	if !strings.Contains(pattern, "{code}") {
		return nil, ErrBadTemplate
	}
	t, err := fasttemplate.NewTemplate(pattern, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("path template: %w", err)
	}
	return &Layout{root: root, tmpl: t}, nil
}

// Rel returns the artifact path relative to the root.
func (l *Layout) Rel(code, ext string) (string, error) {
	if code == "" || code == "." || code == ".." || strings.ContainsAny(code, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrBadCode, code)
	}
	rel := filepath.Clean(filepath.FromSlash(l.tmpl.ExecuteString(map[string]interface{}{
		"code": code,
		"ext":  ext,
	})))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes output dir", ErrBadCode, rel)
	}
	return rel, nil
}

// IndexPath is where the manifest goes: next to the artifacts.
func (l *Layout) IndexPath() string {
	rel, err := l.Rel("index", "json")
	if err != nil {
		return filepath.Join(l.root, "index.json")
	}
	return filepath.Join(l.root, filepath.Dir(rel), "index.json")
}

func (l *Layout) Root() string { return l.root }
