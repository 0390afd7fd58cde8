// Package image unpacks a base OS archive into the install root.
package image

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/logging"
)

// Compression is the container format detected on an archive stream.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionBzip2 Compression = "bzip2"
	CompressionGzip  Compression = "gzip"
	CompressionXZ    Compression = "xz"
	CompressionZstd  Compression = "zstd"
)

var magics = []struct {
	compression Compression
	magic       []byte
}{
	{CompressionXZ, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{CompressionZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{CompressionBzip2, []byte("BZh")},
	{CompressionGzip, []byte{0x1f, 0x8b}},
}

// Opener opens an image reference as a byte stream.
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// ImageInstallError reports a failed image installation.
type ImageInstallError struct {
	Image string
	Err   error
}

func (e *ImageInstallError) Error() string {
	return fmt.Sprintf("install image %s: %v", e.Image, e.Err)
}

func (e *ImageInstallError) Unwrap() error {
	return e.Err
}

// Installer streams an archive through decompression into tar.
type Installer struct {
	Runner  execute.Runner
	Sources Opener
	Logger  *slog.Logger
}

// NewInstaller returns an installer reading images from sources.
func NewInstaller(runner execute.Runner, sources Opener, logger *slog.Logger) *Installer {
	return &Installer{
		Runner:  runner,
		Sources: sources,
		Logger:  logging.Ensure(logger).With(logging.ComponentKey, "image"),
	}
}

// Install unpacks ref into root, preserving permissions, sparse files and
// numeric ownership.
func (i *Installer) Install(ctx context.Context, ref, root string) (err error) {
	defer func() {
		if err != nil {
			err = &ImageInstallError{Image: ref, Err: err}
		}
	}()

	source, err := i.Sources.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close source: %w", closeErr)
		}
	}()

	counted := &countingReader{r: source}
	stream, compression, err := Decompress(counted)
	if err != nil {
		return err
	}
	defer stream.Close()

	logger := logging.Ensure(i.Logger)
	logger.Info("unpacking image", "image", ref, "compression", string(compression), "root", root)

	tar := execute.New("tar", "-C", root, "-xpSf", "-", "--numeric-owner").WithStdin(stream)
	if _, err := execute.Run(ctx, i.Runner, tar); err != nil {
		return err
	}
	logger.Info("image unpacked", "image", ref, "bytes", counted.n)
	return nil
}

// Decompress sniffs the stream's magic bytes and returns a reader of the
// uncompressed archive.
func Decompress(r io.Reader) (io.ReadCloser, Compression, error) {
	buffered := bufio.NewReaderSize(r, 64*1024)
	head, err := buffered.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", fmt.Errorf("read header: %w", err)
	}

	compression := CompressionNone
	for _, candidate := range magics {
		if bytes.HasPrefix(head, candidate.magic) {
			compression = candidate.compression
			break
		}
	}

	switch compression {
	case CompressionGzip:
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, compression, fmt.Errorf("gzip: %w", err)
		}
		return gz, compression, nil
	case CompressionXZ:
		xzr, err := xz.NewReader(buffered)
		if err != nil {
			return nil, compression, fmt.Errorf("xz: %w", err)
		}
		return io.NopCloser(xzr), compression, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, compression, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), compression, nil
	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(buffered)), compression, nil
	default:
		return io.NopCloser(buffered), compression, nil
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
