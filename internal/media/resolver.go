package media

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/strefethen/alarmcast-go/internal/apperrors"
)

// TonePrefix marks a media reference that resolves through the tone
// catalog.
const TonePrefix = "tone:"

// Resolver turns alarm media references into something a backend can
// play. Casting needs an absolute URL the remote device can fetch over
// the network; local playback accepts file paths too.
type Resolver struct {
	publicBaseURL string
	mediaDir      string
	catalog       *Catalog
}

// NewResolver creates a resolver. publicBaseURL must be reachable from
// the cast device's network.
func NewResolver(publicBaseURL, mediaDir string, catalog *Catalog) *Resolver {
	return &Resolver{
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		mediaDir:      mediaDir,
		catalog:       catalog,
	}
}

// Catalog exposes the tone catalog backing this resolver.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// ResolveCastable resolves ref to an absolute URL a remote device can
// fetch. Tone references and media-dir paths map to asset URLs; http(s)
// URLs pass through; anything else is not castable.
func (r *Resolver) ResolveCastable(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, TonePrefix):
		tone, ok := r.catalog.Lookup(strings.TrimPrefix(ref, TonePrefix))
		if !ok {
			return "", apperrors.NewAppError(apperrors.ErrorCodeToneNotFound,
				fmt.Sprintf("Tone %q not in catalog", strings.TrimPrefix(ref, TonePrefix)),
				404, map[string]any{"ref": ref}, nil)
		}
		return r.publicBaseURL + "/v1/assets/tones/" + tone.File, nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref, nil
	default:
		if rel, ok := r.relativeToMediaDir(ref); ok {
			return r.publicBaseURL + "/v1/assets/" + filepath.ToSlash(rel), nil
		}
		return "", apperrors.NewMediaNotCastableError(ref)
	}
}

// ResolveLocal resolves ref for the local audio backend: a file path or
// a URL the player command can open.
func (r *Resolver) ResolveLocal(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, TonePrefix):
		tone, ok := r.catalog.Lookup(strings.TrimPrefix(ref, TonePrefix))
		if !ok {
			return "", apperrors.NewAppError(apperrors.ErrorCodeToneNotFound,
				fmt.Sprintf("Tone %q not in catalog", strings.TrimPrefix(ref, TonePrefix)),
				404, map[string]any{"ref": ref}, nil)
		}
		return filepath.Join(r.mediaDir, "tones", tone.File), nil
	case ref == "":
		return "", apperrors.NewValidationError("media reference is empty", nil)
	default:
		return ref, nil
	}
}

// relativeToMediaDir reports ref's path relative to the media dir when
// ref points inside it. Path traversal out of the dir does not resolve.
func (r *Resolver) relativeToMediaDir(ref string) (string, bool) {
	if r.mediaDir == "" {
		return "", false
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", false
	}
	dir, err := filepath.Abs(r.mediaDir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
