package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bdobrica/myspaces/internal/myspaces/artifacts"
	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
	"github.com/bdobrica/myspaces/internal/myspaces/space"
	"github.com/bdobrica/myspaces/internal/myspaces/store"
	"github.com/bdobrica/myspaces/internal/myspaces/templates"
)

// ensureImage makes sure the engine has the space's image:tag, building or
// pulling it if not. An existing tag is trusted as is.
func (r *run) ensureImage(ctx context.Context) error {
	ref := r.id.Ref()
	img, err := r.findImage(ctx, r.id)
	if err != nil {
		return withPhase(err, errdefs.PhaseBuild)
	}
	if img != nil {
		r.log.Info("image found, skipping build")
		if src := img.Labels[LabelSource]; src != "" && src != r.identifier {
			r.log.Warn("image was built from a different source", "built_from", src)
		}
		return nil
	}

	buildCtx := ctx
	if r.cfg.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, r.cfg.BuildTimeout)
		defer cancel()
	}

	progress := newLineWriter(func(line string) {
		r.log.Info("build output", "line", r.redactor.String(line))
	})
	defer progress.Flush()

	if r.id.Kind == space.DirectReference {
		r.log.Info("pulling image")
		if err := r.engine.PullImage(buildCtx, ref, progress); err != nil {
			return r.buildFailure(ctx, buildCtx, errdefs.PhasePull, err)
		}
		r.log.Info("pull complete")
		r.record(ctx, store.Event{Action: "pull", Identifier: r.identifier, Ref: ref})
		return nil
	}

	rendered, err := templates.Render(r.cfg.Template, r.identifier)
	if err != nil {
		return err
	}
	paths, err := r.artifacts.EnsureRoot()
	if err != nil {
		return err
	}
	descriptor, err := artifacts.WriteDescriptor(paths.Dockerfiles, r.id.Tag, rendered)
	if err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(rendered))
	r.log.Info("building image", "descriptor", descriptor)
	imageID, err := r.engine.BuildImage(buildCtx, engine.BuildSpec{
		ContextDir: paths.Dockerfiles,
		Dockerfile: descriptor,
		Ref:        ref,
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelSource:     r.identifier,
			LabelDescriptor: hex.EncodeToString(sum[:]),
		},
	}, progress)
	if err != nil {
		return r.buildFailure(ctx, buildCtx, errdefs.PhaseBuild, err)
	}
	r.log.Info("build complete", "image_id", imageID)
	r.record(ctx, store.Event{Action: "build", Identifier: r.identifier, Ref: ref})
	return nil
}

// buildFailure classifies a failed build or pull. Cancellation of the run is
// passed through untouched; hitting the build timeout is a build failure.
func (r *run) buildFailure(ctx, buildCtx context.Context, phase string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if buildCtx.Err() != nil {
		return errdefs.New(errdefs.ErrBuild, phase,
			fmt.Errorf("timed out after %s: %w", r.cfg.BuildTimeout, err))
	}
	if errors.Is(err, errdefs.ErrBuild) || errors.Is(err, errdefs.ErrEngineUnavailable) {
		return withPhase(err, phase)
	}
	return errdefs.New(errdefs.ErrBuild, phase, err)
}

// findImage returns the image tagged with id's image:tag, or nil.
func (m *Manager) findImage(ctx context.Context, id space.Identity) (*engine.ImageSummary, error) {
	images, err := m.engine.ListImages(ctx, id.Image)
	if err != nil {
		return nil, err
	}
	ref := id.Ref()
	for i := range images {
		if images[i].HasTag(ref) {
			return &images[i], nil
		}
	}
	return nil, nil
}
