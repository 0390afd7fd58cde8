package artifacts

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cochaviz/uli/internal/execute"
)

// Catalog lists the images an operator may pick from. Entries are
// references Resolver.Open accepts.
type Catalog interface {
	List(ctx context.Context) ([]string, error)
}

// archiveExtensions are the final extensions of image archives. ISO9660
// folds inner dots, so "stage3.tar.bz2" is stored as "stage3_tar.bz2" and
// only the last extension can be relied on.
var archiveExtensions = map[string]bool{
	"tar": true, "bz2": true, "tbz2": true, "tbz": true,
	"gz": true, "tgz": true, "xz": true, "txz": true,
	"zst": true, "tzst": true,
}

// IsArchive reports whether name looks like an image archive.
func IsArchive(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ";1")
	ext := path.Ext(name)
	return ext != "" && archiveExtensions[ext[1:]]
}

// ShareCatalog lists archives in the top level of a mounted share.
type ShareCatalog struct {
	Dir string
}

var _ Catalog = (*ShareCatalog)(nil)

func (c *ShareCatalog) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("list share %s: %w", c.Dir, err)
	}
	var refs []string
	for _, entry := range entries {
		if entry.IsDir() || !IsArchive(entry.Name()) {
			continue
		}
		refs = append(refs, Reference{Scheme: SchemeShare, Path: "/" + entry.Name()}.String())
	}
	sort.Strings(refs)
	return refs, nil
}

// SSHCatalog lists archives in a directory on the backend.
type SSHCatalog struct {
	Runner execute.Runner
	User   string
	Host   string
	Dir    string
}

var _ Catalog = (*SSHCatalog)(nil)

func (c *SSHCatalog) List(ctx context.Context) ([]string, error) {
	target := c.Host
	if c.User != "" {
		target = c.User + "@" + c.Host
	}
	res, err := execute.Run(ctx, c.Runner, execute.New("ssh", "-x", target, "ls", "-1", shellQuote(c.Dir)))
	if err != nil {
		return nil, fmt.Errorf("list images on %s: %w", c.Host, err)
	}

	var refs []string
	scanner := bufio.NewScanner(strings.NewReader(res.Output))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || !IsArchive(name) {
			continue
		}
		refs = append(refs, Reference{Scheme: SchemeSSH, User: c.User, Host: c.Host, Path: path.Join(c.Dir, name)}.String())
	}
	sort.Strings(refs)
	return refs, nil
}

// ISOCatalog lists archives in one directory of an ISO9660 image.
type ISOCatalog struct {
	Image string
	Dir   string
}

var _ Catalog = (*ISOCatalog)(nil)

func (c *ISOCatalog) List(context.Context) ([]string, error) {
	image, err := openISO(c.Image)
	if err != nil {
		return nil, err
	}
	defer image.Close()

	dir, err := image.lookup(c.Dir)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("%s in %s is not a directory", c.Dir, c.Image)
	}
	children, err := dir.GetChildren()
	if err != nil {
		return nil, fmt.Errorf("list %s in %s: %w", c.Dir, c.Image, err)
	}

	var refs []string
	for _, child := range children {
		name := strings.TrimSuffix(child.Name(), ";1")
		if child.IsDir() || !IsArchive(name) {
			continue
		}
		inner := path.Join("/", c.Dir, name)
		refs = append(refs, Reference{Scheme: SchemeISO, Path: c.Image, Inner: inner}.String())
	}
	sort.Strings(refs)
	return refs, nil
}
