package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/artwork"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/shell"
	"github.com/cybre/emotive-engine/internal/source"
)

// DefaultWindowMatches are title/class fragments of windows that usually
// show the video the music belongs to.
var DefaultWindowMatches = []string{"youtube", "spotify"}

type hyprWindow struct {
	Title  string `json:"title"`
	Class  string `json:"class"`
	At     [2]int `json:"at"`
	Size   [2]int `json:"size"`
	Mapped bool   `json:"mapped"`
	Hidden bool   `json:"hidden"`
}

func (w hyprWindow) geometry() string {
	return fmt.Sprintf("%d,%d %dx%d", w.At[0], w.At[1], w.Size[0], w.Size[1])
}

func (w hyprWindow) matches(keywords []string) bool {
	if !w.Mapped || w.Hidden || w.Size[0] <= 0 || w.Size[1] <= 0 {
		return false
	}
	title := strings.ToLower(w.Title)
	class := strings.ToLower(w.Class)
	for _, k := range keywords {
		if strings.Contains(title, k) || strings.Contains(class, k) {
			return true
		}
	}
	return false
}

// WindowCapture screenshots the first matching Hyprland window with grim.
type WindowCapture struct {
	run     shell.Runner
	matches []string
	sampler artwork.Sampler
}

// NewWindowCapture uses run for hyprctl and grim.
func NewWindowCapture(run shell.Runner, matches []string, sampler artwork.Sampler) *WindowCapture {
	if run == nil {
		run = shell.Run
	}
	if len(matches) == 0 {
		matches = DefaultWindowMatches
	}
	lowered := make([]string, 0, len(matches))
	for _, m := range matches {
		lowered = append(lowered, strings.ToLower(m))
	}
	if sampler == nil {
		sampler = artwork.MeanColor
	}
	return &WindowCapture{run: run, matches: lowered, sampler: sampler}
}

// VideoColor samples the first visible window whose title or class matches.
func (w *WindowCapture) VideoColor(ctx context.Context) (rgba.Color, error) {
	out, err := w.run(ctx, "hyprctl", "clients", "-j")
	if err != nil {
		return rgba.Color{}, eris.Wrap(err, "list hyprland clients")
	}

	var windows []hyprWindow
	if err := json.Unmarshal(out, &windows); err != nil {
		return rgba.Color{}, eris.Wrap(err, "decode hyprland clients")
	}

	for _, win := range windows {
		if !win.matches(w.matches) {
			continue
		}

		shot, err := w.run(ctx, "grim", "-g", win.geometry(), "-t", "png", "-")
		if err != nil {
			return rgba.Color{}, eris.Wrapf(err, "capture window %q", win.Title)
		}

		img, err := artwork.Decode(bytes.NewReader(shot))
		if err != nil {
			return rgba.Color{}, err
		}
		return w.sampler(img)
	}

	return rgba.Color{}, eris.Wrap(source.ErrNoFrame, "no matching window")
}

// Chain tries each provider in order and returns the first color.
type Chain []source.VideoFrameProvider

// VideoColor implements source.VideoFrameProvider.
func (c Chain) VideoColor(ctx context.Context) (rgba.Color, error) {
	var errs []error
	for _, p := range c {
		if p == nil {
			continue
		}
		color, err := p.VideoColor(ctx)
		if err == nil {
			return color, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return rgba.Color{}, source.ErrNoFrame
	}
	return rgba.Color{}, errors.Join(errs...)
}
