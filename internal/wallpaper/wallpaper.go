// Package wallpaper locates the current desktop background across the common
// Wayland and X11 wallpaper setters and samples its color.
package wallpaper

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/cybre/emotive-engine/internal/artwork"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/shell"
	"github.com/cybre/emotive-engine/internal/source"
)

// ProcessLister returns the names of running processes.
type ProcessLister func(ctx context.Context) ([]string, error)

type probe struct {
	name   string
	daemon string
	locate func(f *Finder, ctx context.Context) ([]string, error)
}

var probes = []probe{
	{name: "hyprpaper", daemon: "hyprpaper", locate: (*Finder).hyprpaper},
	{name: "swww", daemon: "swww-daemon", locate: (*Finder).swww},
	{name: "waypaper", daemon: "waypaper", locate: firstLineOf("waypaper", "--list")},
	{name: "waytrogen", daemon: "waytrogen", locate: firstLineOf("waytrogen", "--list")},
	{name: "feh", locate: (*Finder).feh},
	{name: "nitrogen", locate: (*Finder).nitrogen},
}

// Finder walks the probe chain until one yields an existing image file.
type Finder struct {
	run       shell.Runner
	processes ProcessLister
	home      string
	sampler   artwork.Sampler
	logger    *slog.Logger
}

// NewFinder builds a Finder. A nil processes disables daemon prioritization.
func NewFinder(run shell.Runner, processes ProcessLister, sampler artwork.Sampler, logger *slog.Logger) *Finder {
	if run == nil {
		run = shell.Run
	}
	if sampler == nil {
		sampler = artwork.MeanColor
	}
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	return &Finder{run: run, processes: processes, home: home, sampler: sampler, logger: logger}
}

// RunningProcesses lists process names through gopsutil.
func RunningProcesses(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list processes")
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// WallpaperColor implements source.WallpaperColorProvider.
func (f *Finder) WallpaperColor(ctx context.Context) (rgba.Color, error) {
	path, err := f.Path(ctx)
	if err != nil {
		return rgba.Color{}, err
	}

	img, err := imaging.Open(path)
	if err != nil {
		return rgba.Color{}, eris.Wrapf(err, "open wallpaper %s", path)
	}
	return f.sampler(img)
}

// Path returns the first wallpaper path that exists on disk.
func (f *Finder) Path(ctx context.Context) (string, error) {
	for _, p := range f.ordered(ctx) {
		candidates, err := p.locate(f, ctx)
		if err != nil {
			f.logger.Debug("wallpaper probe failed", slog.String("probe", p.name), slog.Any("error", err))
			continue
		}
		for _, c := range candidates {
			c = f.expand(c)
			if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
				return c, nil
			}
		}
	}
	return "", source.ErrNoWallpaper
}

// ordered moves probes whose daemon is running to the front.
func (f *Finder) ordered(ctx context.Context) []probe {
	if f.processes == nil {
		return probes
	}

	names, err := f.processes(ctx)
	if err != nil {
		f.logger.Debug("process listing failed", slog.Any("error", err))
		return probes
	}

	running := func(p probe) bool {
		return p.daemon != "" && slices.Contains(names, p.daemon)
	}

	out := make([]probe, 0, len(probes))
	for _, p := range probes {
		if running(p) {
			out = append(out, p)
		}
	}
	for _, p := range probes {
		if !running(p) {
			out = append(out, p)
		}
	}
	return out
}

func (f *Finder) expand(path string) string {
	path = strings.Trim(strings.TrimSpace(path), `'"`)
	if rest, ok := strings.CutPrefix(path, "~/"); ok && f.home != "" {
		return filepath.Join(f.home, rest)
	}
	return path
}

// hyprpaper prints "monitor = /path" (older releases used "monitor,/path").
func (f *Finder) hyprpaper(ctx context.Context) ([]string, error) {
	out, err := f.run(ctx, "hyprctl", "hyprpaper", "listactive")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range lines(out) {
		if _, path, ok := strings.Cut(line, " = "); ok {
			paths = append(paths, path)
		} else if _, path, ok := strings.Cut(line, ","); ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (f *Finder) swww(ctx context.Context) ([]string, error) {
	out, err := f.run(ctx, "swww", "query")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range lines(out) {
		if _, rest, ok := strings.Cut(line, "image: "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

func firstLineOf(name string, args ...string) func(*Finder, context.Context) ([]string, error) {
	return func(f *Finder, ctx context.Context) ([]string, error) {
		out, err := f.run(ctx, name, args...)
		if err != nil {
			return nil, err
		}
		if l := lines(out); len(l) > 0 {
			return l[:1], nil
		}
		return nil, nil
	}
}

var fehArgument = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)

// feh records its last invocation in ~/.fehbg.
func (f *Finder) feh(context.Context) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(f.home, ".fehbg"))
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range lines(data) {
		if !strings.Contains(line, "feh") {
			continue
		}
		for _, m := range fehArgument.FindAllStringSubmatch(line, -1) {
			paths = append(paths, m[1]+m[2])
		}
	}
	return paths, nil
}

func (f *Finder) nitrogen(context.Context) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(f.home, ".config", "nitrogen", "bg-saved.cfg"))
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range lines(data) {
		if path, ok := strings.CutPrefix(line, "file="); ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func lines(data []byte) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}
