package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/execute/executetest"
)

func TestParseReference(t *testing.T) {
	cases := []struct {
		raw  string
		want Reference
	}{
		{"/images/stage3.tar.bz2", Reference{Scheme: SchemeSSH, Path: "/images/stage3.tar.bz2"}},
		{"file:///srv/images/base.tar.xz", Reference{Scheme: SchemeFile, Path: "/srv/images/base.tar.xz"}},
		{"ssh://deploy@10.0.0.1/images/a.tar", Reference{Scheme: SchemeSSH, User: "deploy", Host: "10.0.0.1", Path: "/images/a.tar"}},
		{"iso:///media/cdrom.iso#/images/a.tar.gz", Reference{Scheme: SchemeISO, Path: "/media/cdrom.iso", Inner: "/images/a.tar.gz"}},
		{"share:/base.tar.zst", Reference{Scheme: SchemeShare, Path: "/base.tar.zst"}},
	}
	for _, tc := range cases {
		got, err := ParseReference(tc.raw, SchemeSSH)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)

		if tc.want.Scheme == SchemeSSH && tc.want.Host == "" {
			continue
		}
		again, err := ParseReference(got.String(), SchemeShare)
		require.NoError(t, err, got.String())
		assert.Equal(t, tc.want, again, "round trip of %s", got.String())
	}

	for _, bad := range []string{"", "images/a.tar", "ftp://host/a.tar", "iso:///media/cdrom.iso", "ssh:///a.tar"} {
		_, err := ParseReference(bad, SchemeSSH)
		assert.Error(t, err, bad)
	}
}

func TestShareSourceStaysInsideShare(t *testing.T) {
	share := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(share, "base.tar"), []byte("payload"), 0o644))

	resolver := NewResolver(SchemeShare, nil, &ShareSource{Dir: share})
	rc, err := resolver.Open(context.Background(), "/../base.tar")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestResolverWithoutSSHSource(t *testing.T) {
	resolver := NewResolver(SchemeSSH, nil, nil)
	_, err := resolver.Open(context.Background(), "/images/a.tar")
	assert.ErrorContains(t, err, "no source configured for ssh")
}

func TestShareCatalogListsArchives(t *testing.T) {
	share := t.TempDir()
	for _, name := range []string{"b.tar.xz", "a.tgz", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(share, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(share, "old.tar"), 0o755))

	refs, err := (&ShareCatalog{Dir: share}).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"share:/a.tgz", "share:/b.tar.xz"}, refs)
}

func TestSSHCatalogListsArchives(t *testing.T) {
	rec := executetest.NewRecorder().On("ssh -x install@10.0.0.1 ls", execute.Result{Output: "stage3.tar.bz2\nREADME\n"})
	catalog := &SSHCatalog{Runner: rec, User: "install", Host: "10.0.0.1", Dir: "/images"}

	refs, err := catalog.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ssh://install@10.0.0.1/images/stage3.tar.bz2"}, refs)
	assert.Equal(t, []string{"ssh -x install@10.0.0.1 ls -1 /images"}, rec.Lines())
}

func writeISO(t *testing.T, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	for name, content := range files {
		full := filepath.Join(src, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	writer, err := iso9660.NewWriter()
	require.NoError(t, err)
	defer writer.Cleanup()
	require.NoError(t, writer.AddLocalDirectory(src, "/"))

	isoPath := filepath.Join(t.TempDir(), "images.iso")
	out, err := os.Create(isoPath)
	require.NoError(t, err)
	defer out.Close()
	require.NoError(t, writer.WriteTo(out, "ULI"))
	return isoPath
}

func TestISOSourceAndCatalog(t *testing.T) {
	isoPath := writeISO(t, map[string]string{
		"images/stage3.tar.gz": "compressed image",
		"images/readme":        "ignore me",
	})
	ctx := context.Background()

	rc, err := ISOSource{}.Open(ctx, Reference{Scheme: SchemeISO, Path: isoPath, Inner: "/images/stage3.tar.gz"})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "compressed image", string(data))

	refs, err := (&ISOCatalog{Image: isoPath, Dir: "/images"}).List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	resolver := NewResolver(SchemeFile, nil, nil)
	rc, err = resolver.Open(ctx, refs[0])
	require.NoError(t, err)
	defer rc.Close()
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "compressed image", string(data))
}

func TestISOSourceMissingEntry(t *testing.T) {
	isoPath := writeISO(t, map[string]string{"images/a.tar": "x"})
	_, err := ISOSource{}.Open(context.Background(), Reference{Scheme: SchemeISO, Path: isoPath, Inner: "/images/b.tar"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMangleISOFileName(t *testing.T) {
	assert.Equal(t, "stage3_tar.bz2;1", mangleISOFileName("Stage3.tar.bz2"))
	assert.Equal(t, "readme;1", mangleISOFileName("README"))
	assert.True(t, IsArchive("stage3_tar.bz2;1"))
	assert.False(t, IsArchive("readme"))
}
