package filename

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersRFC5987FilenameStar(t *testing.T) {
	name := Resolve(`attachment; filename="fallback.bin"; filename*=UTF-8''real%20name.gguf`, "", "")
	assert.Equal(t, "real name.gguf", name)
}

func TestResolveRejectsSemicolonBearingCandidate(t *testing.T) {
	// The "foo.gguf; filename=foo.gguf" bug: a flat filename containing ';'
	// must be rejected and fall through to the URL.
	name := Resolve(`attachment; filename="foo.gguf; filename=foo.gguf"`, "https://example.com/real.bin", "")
	assert.Equal(t, "real.bin", name)
}

func TestResolveFallsBackToURLPath(t *testing.T) {
	name := Resolve("", "https://example.com/dir/archive.zip?token=abc", "")
	assert.Equal(t, "archive.zip", name)
}

func TestResolveInfersExtensionFromContentType(t *testing.T) {
	name := Resolve("", "https://example.com/download", "application/zip")
	assert.Equal(t, "download.zip", name)
}

func TestResolveDefaultsToDownload(t *testing.T) {
	name := Resolve("", "", "")
	assert.Equal(t, "download", name)
}

func TestSanitizeStripsPathSeparators(t *testing.T) {
	name := Resolve(`attachment; filename="../../etc/passwd"`, "", "")
	assert.NotContains(t, name, "/")
}

func TestReserveSuffixesOnCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mp4"), []byte("x"), 0o644))

	final, temp, err := Reserve(dir, "movie.mp4", CollisionRename)
	require.NoError(t, err)
	assert.Equal(t, "movie (1).mp4", final)
	assert.FileExists(t, temp)
}

func TestReserveErrorsOnCollisionWhenPolicyIsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mp4"), []byte("x"), 0o644))

	_, _, err := Reserve(dir, "movie.mp4", CollisionError)
	assert.Error(t, err)
}
