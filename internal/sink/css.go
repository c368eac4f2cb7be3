package sink

import (
	"context"
	"os"
	"regexp"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/rgba"
)

// CSSVariable rewrites one custom property in a stylesheet with the emitted
// #rrggbb color. The file is only written when the value changes and a missing
// file is silently skipped.
type CSSVariable struct {
	colorOnly

	path    string
	pattern *regexp.Regexp

	mu   sync.Mutex
	last string
}

// NewCSSVariable targets variable (e.g. "--panel-accent-color") in path.
func NewCSSVariable(path, variable string) *CSSVariable {
	pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(variable) + `\s*:\s*)(?:#[0-9a-f]{6,8}|rgba?\([^)]+\))`)
	return &CSSVariable{path: path, pattern: pattern}
}

func (s *CSSVariable) SetColor(_ context.Context, c rgba.Color, _ bool) error {
	value := c.RGBHex()

	s.mu.Lock()
	defer s.mu.Unlock()

	if value == s.last {
		return nil
	}

	css, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.last = value
			return nil
		}
		return eris.Wrapf(err, "read %s", s.path)
	}

	updated := s.pattern.ReplaceAll(css, []byte("${1}"+value))
	if string(updated) != string(css) {
		if err := writeAtomic(s.path, updated); err != nil {
			return err
		}
	}

	s.last = value
	return nil
}
