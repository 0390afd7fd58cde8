package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cochaviz/uli/internal/artifacts"
	"github.com/cochaviz/uli/internal/pipeline"
)

// KeepCurrent is the answer that keeps the configured image.
const KeepCurrent = 0

// MaxAttempts bounds how often an invalid answer is re-prompted.
const MaxAttempts = 3

// ErrNoSelection is returned when the operator gave no valid answer.
var ErrNoSelection = errors.New("no valid image selected")

// Picker asks the operator to choose an image from a catalog.
type Picker struct {
	In      io.Reader
	Out     io.Writer
	Catalog artifacts.Catalog
}

var _ pipeline.ImageSelector = (*Picker)(nil)

// Select lists the catalog and returns the chosen reference, or current
// when the operator answers 0.
func (p *Picker) Select(ctx context.Context, current string) (string, error) {
	images, err := p.Catalog.List(ctx)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(p.Out, "  %d) keep %s\n", KeepCurrent, current)
	for i, image := range images {
		fmt.Fprintf(p.Out, "  %d) %s\n", i+1, image)
	}

	lines := bufio.NewScanner(p.In)
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(p.Out, "Select image [%d-%d]: ", KeepCurrent, len(images))
		if !lines.Scan() {
			if err := lines.Err(); err != nil {
				return "", fmt.Errorf("read selection: %w", err)
			}
			return "", fmt.Errorf("%w: input closed", ErrNoSelection)
		}

		answer := strings.TrimSpace(lines.Text())
		choice, err := strconv.Atoi(answer)
		switch {
		case err != nil || choice < 0 || choice > len(images):
			fmt.Fprintf(p.Out, "%q is not a listed number\n", answer)
			continue
		case choice == KeepCurrent:
			return current, nil
		default:
			return images[choice-1], nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrNoSelection, MaxAttempts)
}
