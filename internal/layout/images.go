package layout

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageSource resolves a figure reference to its natural pixel size.
type ImageSource interface {
	DecodeConfig(ctx context.Context, ref string) (image.Config, error)
}

var ErrFigureRef = errors.New("figure reference outside the figures directory")

// DirImages reads figures from disk. References are relative to Root and never leave it.
type DirImages struct {
	Root string
}

// Resolve maps ref to a file under Root.
func (d DirImages) Resolve(ref string) (string, error) {
	if d.Root == "" || ref == "" || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, `\`) {
		return "", fmt.Errorf("%w: %q", ErrFigureRef, ref)
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrFigureRef, ref)
	}
	return filepath.Join(d.Root, clean), nil
}

// Path is Resolve for callers that open the file themselves; a rejected ref maps to "".
func (d DirImages) Path(ref string) string {
	p, err := d.Resolve(ref)
	if err != nil {
		return ""
	}
	return p
}

func (d DirImages) DecodeConfig(ctx context.Context, ref string) (image.Config, error) {
	if err := ctx.Err(); err != nil {
		return image.Config{}, err
	}
	p, err := d.Resolve(ref)
	if err != nil {
		return image.Config{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decode %s: %w", ref, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, fmt.Errorf("decode %s: empty image", ref)
	}
	return cfg, nil
}
