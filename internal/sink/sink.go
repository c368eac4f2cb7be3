// Package sink applies emitted colors to the desktop: compositor borders,
// panel CSS, a shader uniform file and optionally a Yeelight bulb.
package sink

import (
	"context"
	"errors"

	"github.com/cybre/emotive-engine/internal/rgba"
)

// Sink accepts the engine's output. Implementations must tolerate being called
// at the tick rate and should skip work when nothing changed.
type Sink interface {
	SetColor(ctx context.Context, c rgba.Color, beat bool) error
	SetUniforms(ctx context.Context, u rgba.Uniforms) error
}

// Multi fans out to several sinks. Every sink is called even if an earlier
// one fails.
type Multi []Sink

func (m Multi) SetColor(ctx context.Context, c rgba.Color, beat bool) error {
	var errs []error
	for _, s := range m {
		if err := s.SetColor(ctx, c, beat); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SetUniforms(ctx context.Context, u rgba.Uniforms) error {
	var errs []error
	for _, s := range m {
		if err := s.SetUniforms(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// colorOnly can be embedded by sinks that ignore uniforms.
type colorOnly struct{}

func (colorOnly) SetUniforms(context.Context, rgba.Uniforms) error { return nil }
