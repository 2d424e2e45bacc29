package lifecycle

import (
	"context"
	"strings"

	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
	"github.com/bdobrica/myspaces/internal/myspaces/space"
)

// State is the derived state of a space.
type State string

const (
	StateUnbuilt      State = "UNBUILT"
	StateBuiltStopped State = "BUILT_STOPPED"
	StateBuiltRunning State = "BUILT_RUNNING"
)

// Status describes a space as the engine sees it right now.
type Status struct {
	Identity  space.Identity
	State     State
	Container *engine.ContainerHandle
}

// Status derives the state of the space for identifier. It does not change
// anything.
func (m *Manager) Status(ctx context.Context, identifier string) (Status, error) {
	id, err := m.cfg.Resolver.Resolve(identifier)
	if err != nil {
		return Status{}, err
	}
	st := Status{Identity: id, State: StateUnbuilt}

	img, err := m.findImage(ctx, id)
	if err != nil {
		return Status{}, errdefs.Annotate(withPhase(err, errdefs.PhaseList), identifier)
	}
	h, err := space.FindExistingContainer(ctx, m.engine, id)
	if err != nil {
		return Status{}, errdefs.Annotate(withPhase(err, errdefs.PhaseList), identifier)
	}
	st.Container = h

	switch {
	case h != nil && h.Running():
		st.State = StateBuiltRunning
	case img != nil || h != nil:
		st.State = StateBuiltStopped
	}
	return st, nil
}

// List returns the tag of every known space: images under the local
// namespace and under the publisher's copy of it, in engine order. Each call
// queries the engine again.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	ns := m.cfg.Resolver.Namespace
	images, err := m.engine.ListImages(ctx, ns, m.cfg.Resolver.Publisher+"/"+ns)
	if err != nil {
		return nil, withPhase(err, errdefs.PhaseList)
	}

	tags := make([]string, 0, len(images))
	for _, img := range images {
		if len(img.Tags) == 0 {
			continue
		}
		tags = append(tags, tagOf(img.Tags[0]))
	}
	return tags, nil
}

// tagOf returns the tag part of "name:tag".
func tagOf(ref string) string {
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		return ref[i+1:]
	}
	return ref
}
