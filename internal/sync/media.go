package sync

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// maxMediaDimension bounds received images on their longer side. Anything
// larger is resampled down before it lands in the media directory.
const maxMediaDimension = 2048

// NormalizeMediaPath validates a wire media path and returns it in slash
// form. Accepted paths are relative, contain no traversal segments, and
// carry no drive or volume component.
func NormalizeMediaPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty media path")
	}
	slashed := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("absolute media path %q", p)
	}
	if strings.Contains(slashed, ":") {
		return "", fmt.Errorf("media path %q has a volume component", p)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("media path %q escapes the media directory", p)
	}
	return clean, nil
}

// SaveMediaFile writes one received media file under mediaDir and returns
// the destination path. Image extensions are decoded, bounded to
// maxMediaDimension, and re-encoded; image files that do not decode are
// rejected. Other extensions are stored as received.
func SaveMediaFile(mediaDir, wirePath string, content []byte) (string, error) {
	rel, err := NormalizeMediaPath(wirePath)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(mediaDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	switch strings.ToLower(path.Ext(rel)) {
	case ".png", ".jpg", ".jpeg":
		img, err := imaging.Decode(bytes.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("decode image %s: %w", rel, err)
		}
		if err := imaging.Save(boundImage(img), dst); err != nil {
			return "", fmt.Errorf("save image %s: %w", rel, err)
		}
	default:
		if err := os.WriteFile(dst, content, 0644); err != nil {
			return "", fmt.Errorf("save media %s: %w", rel, err)
		}
	}
	return dst, nil
}

// LoadMediaFile reads a row-referenced media file for transfer, returning
// the normalized wire path alongside the bytes.
func LoadMediaFile(mediaDir, storedPath string) (string, []byte, error) {
	rel, err := NormalizeMediaPath(storedPath)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(filepath.Join(mediaDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", nil, err
	}
	return rel, data, nil
}

func boundImage(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxMediaDimension && b.Dy() <= maxMediaDimension {
		return img
	}
	return imaging.Fit(img, maxMediaDimension, maxMediaDimension, imaging.Lanczos)
}
