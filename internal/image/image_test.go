package image

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/execute/executetest"
	"github.com/cochaviz/uli/internal/logging"
)

const archive = "pretend this is a tar stream"

type memorySources map[string][]byte

func (m memorySources) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	data, ok := m[ref]
	if !ok {
		return nil, errors.New("no such image")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func compress(t *testing.T, kind Compression) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch kind {
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionXZ:
		w, err = xz.NewWriter(&buf)
	case CompressionZstd:
		w, err = zstd.NewWriter(&buf)
	default:
		return []byte(archive)
	}
	require.NoError(t, err)
	_, err = io.WriteString(w, archive)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompressDetectsFormat(t *testing.T) {
	for _, kind := range []Compression{CompressionNone, CompressionGzip, CompressionXZ, CompressionZstd} {
		t.Run(string(kind), func(t *testing.T) {
			stream, detected, err := Decompress(bytes.NewReader(compress(t, kind)))
			require.NoError(t, err)
			defer stream.Close()

			assert.Equal(t, kind, detected)
			data, err := io.ReadAll(stream)
			require.NoError(t, err)
			assert.Equal(t, archive, string(data))
		})
	}
}

func TestDecompressDetectsBzip2Magic(t *testing.T) {
	_, detected, err := Decompress(strings.NewReader("BZh91AY&SY"))
	require.NoError(t, err)
	assert.Equal(t, CompressionBzip2, detected)
}

func TestDecompressShortStream(t *testing.T) {
	stream, detected, err := Decompress(strings.NewReader("ab"))
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, detected)
	data, _ := io.ReadAll(stream)
	assert.Equal(t, "ab", string(data))
}

func TestInstallPipesArchiveIntoTar(t *testing.T) {
	rec := executetest.NewRecorder()
	installer := &Installer{
		Runner:  rec,
		Sources: memorySources{"/images/stage3.tar.xz": compress(t, CompressionXZ)},
		Logger:  logging.Discard(),
	}

	require.NoError(t, installer.Install(context.Background(), "/images/stage3.tar.xz", "/install"))

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "tar -C /install -xpSf - --numeric-owner", calls[0].Line)
	assert.Equal(t, archive, calls[0].Stdin)
}

func TestInstallFailures(t *testing.T) {
	sources := memorySources{"/images/a.tar": []byte(archive)}

	installer := &Installer{Runner: executetest.NewRecorder(), Sources: sources, Logger: logging.Discard()}
	err := installer.Install(context.Background(), "/images/missing.tar", "/install")
	var installErr *ImageInstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, "/images/missing.tar", installErr.Image)

	installer.Runner = executetest.NewRecorder().Fail("tar", 2)
	err = installer.Install(context.Background(), "/images/a.tar", "/install")
	require.ErrorAs(t, err, &installErr)
	var cmdErr *execute.CommandError
	assert.ErrorAs(t, err, &cmdErr)
}
