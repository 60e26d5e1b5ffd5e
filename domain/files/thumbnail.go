package files

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// ThumbSize is one fixed thumbnail target box
type ThumbSize struct {
	Name    string
	Box     int
	Quality int
}

// ThumbSizes are the three derivatives generated for every thumbnailable
// file. Larger sizes get higher JPEG quality.
var ThumbSizes = []ThumbSize{
	{Name: "small", Box: 150, Quality: 80},
	{Name: "medium", Box: 512, Quality: 85},
	{Name: "large", Box: 1024, Quality: 90},
}

// RenderThumbnail resizes src to fit the target box, centered on a white
// background, and encodes it as JPEG at the size's quality.
func RenderThumbnail(src image.Image, size ThumbSize) ([]byte, error) {
	fitted := imaging.Fit(src, size.Box, size.Box, imaging.Lanczos)

	canvas := imaging.New(size.Box, size.Box, color.White)
	canvas = imaging.PasteCenter(canvas, fitted)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(size.Quality)); err != nil {
		return nil, fmt.Errorf("encode %s thumbnail: %w", size.Name, err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes raster image bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Rasterizer turns a document's first page into a raster image. PDFs go
// through an external converter; tests substitute a fake.
type Rasterizer interface {
	FirstPage(ctx context.Context, pdf []byte) (image.Image, error)
}

// PdftoppmRasterizer shells out to pdftoppm (poppler-utils) to rasterize
// page one at 150 DPI.
type PdftoppmRasterizer struct{}

func (PdftoppmRasterizer) FirstPage(ctx context.Context, pdf []byte) (image.Image, error) {
	dir, err := os.MkdirTemp("", "thumb-pdf-")
	if err != nil {
		return nil, fmt.Errorf("rasterize pdf: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("rasterize pdf: %w", err)
	}

	outPrefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-f", "1", "-l", "1", "-r", "150", "-singlefile",
		src, outPrefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, bytes.TrimSpace(out))
	}

	img, err := imaging.Open(outPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rasterized page: %w", err)
	}
	return img, nil
}
