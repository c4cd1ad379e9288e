// Package lifecycle starts and stops the long-lived pipeline components
// (feed sync, review expiry, the zero-shot model) as one ordered group.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Component is anything with a managed lifetime. Start must return once the
// component is serving; Stop must be safe to call on a never-started one.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime runs components in registration order and stops them in reverse,
// so later components may depend on earlier ones for their whole lifetime.
type Runtime struct {
	components []Component
}

func NewRuntime(components ...Component) *Runtime {
	return &Runtime{components: components}
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, component)
}

// Start brings every component up. The first failure stops the already
// started ones in reverse order and surfaces the cause.
func (r *Runtime) Start(ctx context.Context) error {
	started := make([]Component, 0, len(r.components))
	for _, component := range r.components {
		if component == nil {
			continue
		}
		if err := component.Start(ctx); err != nil {
			_ = stopComponents(ctx, started)
			return fmt.Errorf("start %s: %w", componentName(component), err)
		}
		r.getLogEntry().WithField("component", componentName(component)).Debug("started")
		started = append(started, component)
	}
	return nil
}

// Stop halts every component in reverse order. All of them get their Stop
// call even when earlier ones fail; the errors come back joined.
func (r *Runtime) Stop(ctx context.Context) error {
	return stopComponents(ctx, r.components)
}

func stopComponents(ctx context.Context, components []Component) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if component == nil {
			continue
		}
		if err := component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", componentName(component), err))
		}
	}
	return stopErr
}

func componentName(component Component) string {
	return strings.TrimLeft(fmt.Sprintf("%T", component), "*")
}

func (r *Runtime) getLogEntry() *log.Entry {
	return log.WithField("object", "Runtime")
}
