package artifacts

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kdomanski/iso9660"
)

const (
	isoDirectoryIdentifierMaxLength = 31
	isoFileIdentifierMaxLength      = 30
)

// isoCharacters is the D-string set the ISO9660 writer keeps; anything else
// becomes an underscore.
const isoCharacters = "abcdefghijklmnopqrstuvwxyz0123456789_!\"%&'()*+,-./:;<=>?"

// isoImage is an opened ISO file.
type isoImage struct {
	file  *os.File
	image *iso9660.Image
}

func openISO(path string) (*isoImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open iso %s: %w", path, err)
	}
	image, err := iso9660.OpenImage(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read iso %s: %w", path, err)
	}
	return &isoImage{file: file, image: image}, nil
}

func (i *isoImage) Close() error {
	return i.file.Close()
}

// lookup walks inner from the image root. Each segment matches either
// literally or in the mangled form the writer stores.
func (i *isoImage) lookup(inner string) (*iso9660.File, error) {
	current, err := i.image.RootDir()
	if err != nil {
		return nil, fmt.Errorf("read iso root: %w", err)
	}

	segments := splitISOPath(inner)
	for n, segment := range segments {
		if !current.IsDir() {
			return nil, fmt.Errorf("%s: not a directory", strings.Join(segments[:n], "/"))
		}
		children, err := current.GetChildren()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", strings.Join(segments[:n], "/"), err)
		}

		last := n == len(segments)-1
		var next *iso9660.File
		for _, child := range children {
			if isoNameMatches(child.Name(), segment, last && !child.IsDir()) {
				next = child
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%s: %w", inner, os.ErrNotExist)
		}
		current = next
	}
	return current, nil
}

type isoEntryReader struct {
	io.Reader
	image *isoImage
}

func (r *isoEntryReader) Close() error {
	return r.image.Close()
}

func isoNameMatches(stored, wanted string, file bool) bool {
	stored = strings.TrimSuffix(strings.ToLower(stored), ";1")
	if stored == strings.ToLower(wanted) {
		return true
	}
	if file {
		return stored == strings.TrimSuffix(mangleISOFileName(wanted), ";1")
	}
	return stored == mangleISODString(wanted, isoDirectoryIdentifierMaxLength)
}

func splitISOPath(p string) []string {
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, segment := range raw {
		if segment != "" && segment != "." {
			out = append(out, segment)
		}
	}
	return out
}

// mangleISOFileName reproduces the identifier the ISO9660 writer derives
// from a host file name: lower case, inner dots folded to underscores,
// length-limited and versioned.
func mangleISOFileName(input string) string {
	parts := strings.Split(strings.ToLower(input), ".")

	const version = "1"
	filename, extension := parts[0], ""
	if len(parts) > 1 {
		filename = strings.Join(parts[:len(parts)-1], "_")
		extension = mangleISODString(parts[len(parts)-1], 8)
	}

	maxFilename := isoFileIdentifierMaxLength - (1 + len(version))
	if extension != "" {
		maxFilename -= 1 + len(extension)
	}
	filename = mangleISODString(filename, maxFilename)

	if extension != "" {
		return filename + "." + extension + ";" + version
	}
	return filename + ";" + version
}

func mangleISODString(input string, maxLen int) string {
	input = strings.ToLower(input)
	var b strings.Builder
	for i := 0; i < len(input) && b.Len() < maxLen; i++ {
		if strings.IndexByte(isoCharacters, input[i]) >= 0 {
			b.WriteByte(input[i])
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
