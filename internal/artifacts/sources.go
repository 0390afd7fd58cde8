package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/armon/circbuf"

	"github.com/cochaviz/uli/internal/logging"
)

// Source opens image archives for one scheme.
type Source interface {
	Open(ctx context.Context, ref Reference) (io.ReadCloser, error)
}

// SSHSource streams images from the backend with `ssh -x user@host cat path`.
type SSHSource struct {
	// User and Host apply to bare paths; ssh:// references carry their own.
	User   string
	Host   string
	Logger *slog.Logger
}

var _ Source = (*SSHSource)(nil)

func (s *SSHSource) Open(ctx context.Context, ref Reference) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, host := ref.User, ref.Host
	if host == "" {
		user, host = s.User, s.Host
	}
	if host == "" {
		return nil, errors.New("no backend host for ssh image source")
	}
	target := host
	if user != "" {
		target = user + "@" + host
	}

	stderr, err := circbuf.NewBuffer(8 * 1024)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ssh", "-x", target, "cat", shellQuote(ref.Path))
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ssh pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ssh: %w", err)
	}
	logging.Ensure(s.Logger).Debug("streaming image over ssh", "target", target, "path", ref.Path)
	return &processReader{ReadCloser: stdout, cmd: cmd, stderr: stderr}, nil
}

// processReader reads a process's stdout; Close reaps the process and
// reports a failed exit.
type processReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *circbuf.Buffer
	once   sync.Once
	err    error
}

func (p *processReader) Close() error {
	p.once.Do(func() {
		p.ReadCloser.Close()
		if err := p.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(p.stderr.String())
			if msg != "" {
				p.err = fmt.Errorf("%s: %w: %s", p.cmd.Path, err, msg)
			} else {
				p.err = fmt.Errorf("%s: %w", p.cmd.Path, err)
			}
		}
	})
	return p.err
}

// ShareSource reads images below a mounted directory.
type ShareSource struct {
	Dir string
}

var _ Source = (*ShareSource)(nil)

func (s *ShareSource) Open(_ context.Context, ref Reference) (io.ReadCloser, error) {
	if s.Dir == "" {
		return nil, errors.New("no share directory configured")
	}
	// Clean against "/" so the reference cannot climb out of the share.
	return os.Open(filepath.Join(s.Dir, filepath.Clean("/"+ref.Path)))
}

// FileSource reads absolute local paths.
type FileSource struct{}

var _ Source = FileSource{}

func (FileSource) Open(_ context.Context, ref Reference) (io.ReadCloser, error) {
	return os.Open(ref.Path)
}

// ISOSource reads a file out of an ISO9660 image.
type ISOSource struct{}

var _ Source = ISOSource{}

func (ISOSource) Open(_ context.Context, ref Reference) (io.ReadCloser, error) {
	image, err := openISO(ref.Path)
	if err != nil {
		return nil, err
	}
	entry, err := image.lookup(ref.Inner)
	if err != nil {
		image.Close()
		return nil, err
	}
	if entry.IsDir() {
		image.Close()
		return nil, fmt.Errorf("%s in %s is a directory", ref.Inner, ref.Path)
	}
	return &isoEntryReader{Reader: entry.Reader(), image: image}, nil
}

// Resolver routes references to the source for their scheme.
type Resolver struct {
	// Default is the scheme of bare paths.
	Default Scheme
	Sources map[Scheme]Source
}

// NewResolver wires every source. The ssh and share sources are
// configured by the caller.
func NewResolver(fallback Scheme, ssh *SSHSource, share *ShareSource) *Resolver {
	r := &Resolver{
		Default: fallback,
		Sources: map[Scheme]Source{
			SchemeFile: FileSource{},
			SchemeISO:  ISOSource{},
		},
	}
	if ssh != nil {
		r.Sources[SchemeSSH] = ssh
	}
	if share != nil {
		r.Sources[SchemeShare] = share
	}
	return r
}

// Open parses raw and opens it with the matching source.
func (r *Resolver) Open(ctx context.Context, raw string) (io.ReadCloser, error) {
	ref, err := ParseReference(raw, r.Default)
	if err != nil {
		return nil, err
	}
	source, ok := r.Sources[ref.Scheme]
	if !ok || source == nil {
		return nil, fmt.Errorf("no source configured for %s images", ref.Scheme)
	}
	return source.Open(ctx, ref)
}

func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/._-+") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
