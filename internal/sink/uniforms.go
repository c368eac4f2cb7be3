package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/rgba"
)

// DefaultUniformPath is read by the shader post-processing hook.
const DefaultUniformPath = "/tmp/emotive_engine_uniforms"

// UniformFile publishes shader uniforms as KEY=value lines.
type UniformFile struct {
	path string

	mu   sync.Mutex
	last string
}

// NewUniformFile writes to path.
func NewUniformFile(path string) *UniformFile {
	if path == "" {
		path = DefaultUniformPath
	}
	return &UniformFile{path: path}
}

func (*UniformFile) SetColor(context.Context, rgba.Color, bool) error { return nil }

func (f *UniformFile) SetUniforms(_ context.Context, u rgba.Uniforms) error {
	body := FormatUniforms(u)

	f.mu.Lock()
	defer f.mu.Unlock()

	if body == f.last {
		return nil
	}
	if err := writeAtomic(f.path, []byte(body)); err != nil {
		return err
	}
	f.last = body
	return nil
}

// FormatUniforms renders u in the uniform file format.
func FormatUniforms(u rgba.Uniforms) string {
	return fmt.Sprintf("R=%.4f\nG=%.4f\nB=%.4f\nBEAT=%.1f\n", u.R, u.G, u.B, u.Beat)
}

// writeAtomic replaces path so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "close %s", path)
	}

	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	} else {
		_ = os.Chmod(tmp.Name(), 0o644)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "replace %s", path)
	}
	return nil
}
