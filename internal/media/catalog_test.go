package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCatalog_BuiltinsOnly(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	tone, ok := catalog.Lookup("classic")
	require.True(t, ok)
	require.Equal(t, "Classic Bell", tone.Name)
	require.Equal(t, "classic-bell.mp3", tone.File)

	_, ok = catalog.Lookup("nope")
	require.False(t, ok)

	require.Len(t, catalog.Tones(), 4)
}

func TestLoadCatalog_FileExtendsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tones.yaml")
	content := `tones:
  - id: classic
    name: Rewired Bell
    file: rewired-bell.mp3
  - id: custom
    name: Custom Tone
    file: custom.mp3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	tone, ok := catalog.Lookup("classic")
	require.True(t, ok)
	require.Equal(t, "Rewired Bell", tone.Name)
	require.Equal(t, "rewired-bell.mp3", tone.File)

	tone, ok = catalog.Lookup("custom")
	require.True(t, ok)
	require.Equal(t, "custom.mp3", tone.File)

	// Override replaces in place, extension appends.
	require.Len(t, catalog.Tones(), 5)
}

func TestLoadCatalog_EntryMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tones.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tones:\n  - id: broken\n"), 0o644))

	_, err := LoadCatalog(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing id or file")
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
