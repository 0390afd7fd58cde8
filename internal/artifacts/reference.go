// Package artifacts locates and opens the base OS images a node installs.
package artifacts

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme selects where an image is read from.
type Scheme string

const (
	// SchemeSSH streams the image from the backend with `ssh cat`.
	SchemeSSH Scheme = "ssh"
	// SchemeShare reads the image below a locally mounted share.
	SchemeShare Scheme = "share"
	// SchemeFile reads an absolute local path.
	SchemeFile Scheme = "file"
	// SchemeISO reads a file stored inside an ISO9660 image.
	SchemeISO Scheme = "iso"
)

// ParseScheme validates a scheme name given on the command line.
func ParseScheme(value string) (Scheme, error) {
	switch scheme := Scheme(strings.ToLower(value)); scheme {
	case SchemeSSH, SchemeShare, SchemeFile, SchemeISO:
		return scheme, nil
	default:
		return "", fmt.Errorf("unsupported image source %q", value)
	}
}

// Reference is a parsed image location.
type Reference struct {
	Scheme Scheme
	User   string
	Host   string
	// Path is the image path, or the ISO file for SchemeISO.
	Path string
	// Inner is the path inside the ISO for SchemeISO.
	Inner string
}

// ParseReference parses an image location. A bare path takes the fallback
// scheme; the backend fills in user and host for bare ssh paths.
func ParseReference(raw string, fallback Scheme) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, fmt.Errorf("empty image reference")
	}
	if strings.HasPrefix(raw, "/") {
		return Reference{Scheme: fallback, Path: path.Clean(raw)}, nil
	}
	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, string(SchemeShare)+":") {
		return Reference{}, fmt.Errorf("image path %q must be absolute", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("parse image reference %q: %w", raw, err)
	}
	ref := Reference{Scheme: Scheme(strings.ToLower(u.Scheme)), Path: u.Path}
	switch ref.Scheme {
	case SchemeSSH:
		ref.Host = u.Hostname()
		if u.User != nil {
			ref.User = u.User.Username()
		}
		if ref.Host == "" {
			return Reference{}, fmt.Errorf("image reference %q names no host", raw)
		}
	case SchemeShare, SchemeFile:
		if u.Host != "" {
			return Reference{}, fmt.Errorf("image reference %q must not name a host", raw)
		}
	case SchemeISO:
		ref.Inner = u.Fragment
		if ref.Inner == "" {
			return Reference{}, fmt.Errorf("iso reference %q needs a #/path inside the image", raw)
		}
	default:
		return Reference{}, fmt.Errorf("unsupported image scheme %q", u.Scheme)
	}
	if ref.Path == "" || !strings.HasPrefix(ref.Path, "/") {
		return Reference{}, fmt.Errorf("image reference %q needs an absolute path", raw)
	}
	ref.Path = path.Clean(ref.Path)
	return ref, nil
}

// String renders ref in the form ParseReference accepts.
func (r Reference) String() string {
	switch r.Scheme {
	case SchemeSSH:
		u := url.URL{Scheme: string(SchemeSSH), Host: r.Host, Path: r.Path}
		if r.User != "" {
			u.User = url.User(r.User)
		}
		return u.String()
	case SchemeISO:
		return "iso://" + r.Path + "#" + r.Inner
	case SchemeFile:
		return "file://" + r.Path
	default:
		return string(r.Scheme) + ":" + r.Path
	}
}

// Name is the base name of the archive the reference points at.
func (r Reference) Name() string {
	if r.Scheme == SchemeISO {
		return path.Base(r.Inner)
	}
	return path.Base(r.Path)
}
