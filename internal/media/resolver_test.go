package media

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/alarmcast-go/internal/apperrors"
)

func setupResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	mediaDir := t.TempDir()
	return NewResolver("http://hub.local:8080/", mediaDir, catalog), mediaDir
}

func TestResolver_ResolveCastable_Tone(t *testing.T) {
	resolver, _ := setupResolver(t)

	url, err := resolver.ResolveCastable("tone:classic")
	require.NoError(t, err)
	require.Equal(t, "http://hub.local:8080/v1/assets/tones/classic-bell.mp3", url)
}

func TestResolver_ResolveCastable_ToneNotFound(t *testing.T) {
	resolver, _ := setupResolver(t)

	_, err := resolver.ResolveCastable("tone:missing")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrorCodeToneNotFound, appErr.Code)
	require.Equal(t, 404, appErr.StatusCode)
}

func TestResolver_ResolveCastable_URLPassthrough(t *testing.T) {
	resolver, _ := setupResolver(t)

	url, err := resolver.ResolveCastable("https://example.com/clip.mp3")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/clip.mp3", url)
}

func TestResolver_ResolveCastable_MediaDirPath(t *testing.T) {
	resolver, mediaDir := setupResolver(t)

	url, err := resolver.ResolveCastable(filepath.Join(mediaDir, "custom", "clip.mp3"))
	require.NoError(t, err)
	require.Equal(t, "http://hub.local:8080/v1/assets/custom/clip.mp3", url)
}

func TestResolver_ResolveCastable_PathOutsideMediaDir(t *testing.T) {
	resolver, _ := setupResolver(t)

	_, err := resolver.ResolveCastable("/etc/passwd")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrorCodeMediaNotCastable, appErr.Code)
}

func TestResolver_ResolveCastable_TraversalDoesNotResolve(t *testing.T) {
	resolver, mediaDir := setupResolver(t)

	_, err := resolver.ResolveCastable(filepath.Join(mediaDir, "..", "outside.mp3"))
	require.Error(t, err)
}

func TestResolver_ResolveLocal_Tone(t *testing.T) {
	resolver, mediaDir := setupResolver(t)

	path, err := resolver.ResolveLocal("tone:chime")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(mediaDir, "tones", "soft-chime.mp3"), path)
}

func TestResolver_ResolveLocal_Empty(t *testing.T) {
	resolver, _ := setupResolver(t)

	_, err := resolver.ResolveLocal("")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrorCodeValidationError, appErr.Code)
}

func TestResolver_ResolveLocal_Passthrough(t *testing.T) {
	resolver, _ := setupResolver(t)

	path, err := resolver.ResolveLocal("/var/media/clip.mp3")
	require.NoError(t, err)
	require.Equal(t, "/var/media/clip.mp3", path)
}
