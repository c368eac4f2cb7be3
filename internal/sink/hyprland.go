package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/shell"
)

// DefaultHyprlandKeywords are set to the emitted color on every change.
var DefaultHyprlandKeywords = []string{
	"decoration:col.active",
	"decoration:col.shadow",
	"plugin:wallpaper:pulse",
}

// Hyprland sets compositor keywords through a single hyprctl --batch call.
type Hyprland struct {
	colorOnly

	run      shell.Runner
	keywords []string

	mu   sync.Mutex
	last rgba.Color
	sent bool
}

// NewHyprland uses run to invoke hyprctl.
func NewHyprland(run shell.Runner, keywords []string) *Hyprland {
	if run == nil {
		run = shell.Run
	}
	if len(keywords) == 0 {
		keywords = DefaultHyprlandKeywords
	}
	return &Hyprland{run: run, keywords: keywords}
}

func (h *Hyprland) SetColor(ctx context.Context, c rgba.Color, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sent && h.last == c {
		return nil
	}

	value := hyprlandColor(c)
	cmds := make([]string, 0, len(h.keywords))
	for _, k := range h.keywords {
		cmds = append(cmds, fmt.Sprintf("keyword %s %s", k, value))
	}

	if _, err := h.run(ctx, "hyprctl", "--batch", strings.Join(cmds, " ; ")); err != nil {
		return eris.Wrap(err, "apply hyprland colors")
	}

	h.last = c
	h.sent = true
	return nil
}

func hyprlandColor(c rgba.Color) string {
	return fmt.Sprintf("rgba(%02x%02x%02x%02x)", c.R, c.G, c.B, c.A)
}
