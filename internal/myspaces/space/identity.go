// Package space derives the identity of a space from its source identifier
// and locates the container that belongs to it.
//
// A source identifier is either a direct reference to an already published
// image ("zuppif/my-spaces:gpt-demo") or the URL of a repository whose last
// path segment names the workload ("https://huggingface.co/spaces/org/gpt-demo").
package space

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

const (
	// DefaultNamespace is the image name used for locally built spaces.
	DefaultNamespace = "my-spaces"
	// DefaultPublisher is the registry namespace of published spaces.
	DefaultPublisher = "zuppif"

	defaultTag = "latest"
)

// Kind classifies a source identifier.
type Kind int

const (
	// RepoURL identifies a repository that has to be built locally.
	RepoURL Kind = iota
	// DirectReference identifies an image that is already published.
	DirectReference
)

func (k Kind) String() string {
	if k == DirectReference {
		return "direct-reference"
	}
	return "repo-url"
}

// Identity is the (image, tag) pair a space is cached and looked up by.
type Identity struct {
	Image string
	Tag   string
	Kind  Kind
}

// Ref returns "image:tag".
func (id Identity) Ref() string {
	return id.Image + ":" + id.Tag
}

// Resolver turns source identifiers into identities.
type Resolver struct {
	// Namespace is the image name for RepoURL spaces.
	Namespace string
	// Publisher is the registry namespace that marks a DirectReference.
	Publisher string
}

// NewResolver returns a Resolver, substituting defaults for empty values.
func NewResolver(namespace, publisher string) Resolver {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if publisher == "" {
		publisher = DefaultPublisher
	}
	return Resolver{Namespace: namespace, Publisher: publisher}
}

// Kind classifies identifier. A direct reference is never a URL and starts
// with the publisher namespace.
func (r Resolver) Kind(identifier string) Kind {
	id := strings.TrimSpace(identifier)
	if strings.Contains(id, "://") {
		return RepoURL
	}
	if strings.HasPrefix(id, r.publisher()+"/") {
		return DirectReference
	}
	return RepoURL
}

// Resolve computes the identity for identifier. It performs no I/O.
func (r Resolver) Resolve(identifier string) (Identity, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Identity{}, invalid(identifier, "identifier is empty")
	}

	if r.Kind(id) == DirectReference {
		// Spaces are cached by tag; a digest has no tag to cache under.
		if strings.Contains(id, "@") {
			return Identity{}, invalid(identifier, "digest references are not supported, use image:tag")
		}
		image, tag := splitReference(id)
		if image == "" || strings.HasSuffix(image, "/") || tag == "" {
			return Identity{}, invalid(identifier, "malformed image reference")
		}
		return Identity{Image: image, Tag: tag, Kind: DirectReference}, nil
	}

	tag := lastPathSegment(id)
	if tag == "" {
		return Identity{}, invalid(identifier, "no path segment to name the space")
	}
	ns := r.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return Identity{Image: ns, Tag: tag, Kind: RepoURL}, nil
}

func (r Resolver) publisher() string {
	if r.Publisher == "" {
		return DefaultPublisher
	}
	return r.Publisher
}

// splitReference splits "name[:tag]" on the last colon after the last slash,
// so registry ports ("host:5000/ns/img") are kept in the name.
func splitReference(ref string) (image, tag string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon <= slash {
		return ref, defaultTag
	}
	return ref[:colon], ref[colon+1:]
}

// lastPathSegment returns the last non-empty path component of a URL or
// plain path, ignoring scheme, host, query string and fragment.
func lastPathSegment(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && (u.Scheme != "" || u.Host != "") {
		p = u.Path
	} else {
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

func invalid(identifier, reason string) error {
	return errdefs.New(errdefs.ErrInvalidIdentifier, errdefs.PhaseResolve, fmt.Errorf("%s", reason)).
		WithIdentifier(identifier)
}

// FindExistingContainer returns the first container, running or stopped,
// whose image carries the identity's image:tag. It returns nil when there is
// none. If the engine reports several, the first listed wins.
func FindExistingContainer(ctx context.Context, eng engine.Engine, id Identity) (*engine.ContainerHandle, error) {
	containers, err := eng.ListContainers(ctx, true)
	if err != nil {
		return nil, err
	}
	ref := id.Ref()
	for _, c := range containers {
		for _, tag := range c.ImageTags {
			if tag == ref {
				h := c.Handle()
				return &h, nil
			}
		}
	}
	return nil, nil
}
