package clip

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/vigil-cv/vigil/framebank"
)

const (
	jpegQuality       = 85
	thumbnailMaxWidth = 320
)

// encoder writes clip artifacts under a base output directory, laid out as
// <out>/<source>/<yyyymmdd>/HHMMSS_<id8>.mjpeg with the thumbnail next to it
// in a thumbnails/ subdirectory.
type encoder struct {
	outputDir string
}

func (e encoder) artifactPath(req *Request) string {
	return filepath.Join(e.outputDir, req.SourceID,
		req.Center.Format("20060102"),
		fmt.Sprintf("%s_%s.mjpeg", req.Center.Format("150405"), shortID(req.ID)))
}

func (e encoder) thumbnailPath(req *Request) string {
	return filepath.Join(e.outputDir, req.SourceID,
		req.Center.Format("20060102"), "thumbnails",
		fmt.Sprintf("%s_%s.jpg", req.Center.Format("150405"), shortID(req.ID)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// writeClip encodes the frame sequence as a motion-JPEG artifact
// (concatenated JPEG images) and returns the written size.
func (e encoder) writeClip(frames []*framebank.Frame, path string) (int64, error) {
	if len(frames) == 0 {
		return 0, errors.New("no frames to encode")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrap(err, "can't create clip directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "can't create clip artifact")
	}
	defer f.Close()

	for _, frame := range frames {
		img, err := frameImage(frame)
		if err != nil {
			return 0, errors.Wrapf(err, "frame seq %d", frame.Seq)
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return 0, errors.Wrapf(err, "can't encode frame seq %d", frame.Seq)
		}
	}
	if err := f.Close(); err != nil {
		return 0, errors.Wrap(err, "can't finalize clip artifact")
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrap(err, "can't stat clip artifact")
	}
	return info.Size(), nil
}

// writeThumbnail encodes a single downscaled frame as JPEG.
func (e encoder) writeThumbnail(frame *framebank.Frame, path string) error {
	img, err := frameImage(frame)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "can't create thumbnail directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "can't create thumbnail")
	}
	defer f.Close()
	if err := jpeg.Encode(f, downscale(img, thumbnailMaxWidth), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return errors.Wrap(err, "can't encode thumbnail")
	}
	return f.Close()
}

// frameImage interprets the frame's pixel buffer as packed 8-bit RGB.
func frameImage(f *framebank.Frame) (image.Image, error) {
	need := f.Width * f.Height * 3
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < need {
		return nil, errors.Errorf("malformed frame: %dx%d with %d pixel bytes", f.Width, f.Height, len(f.Pixels))
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = f.Pixels[src]
			img.Pix[dst+1] = f.Pixels[src+1]
			img.Pix[dst+2] = f.Pixels[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	return img, nil
}

// downscale shrinks the image to at most maxWidth wide, preserving aspect,
// by nearest-neighbor sampling. Images already narrow enough pass through.
func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img
	}
	scale := float64(maxWidth) / float64(b.Dx())
	w := maxWidth
	h := int(float64(b.Dy()) * scale)
	if h < 1 {
		h = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := b.Min.Y + int(float64(y)/scale)
		for x := 0; x < w; x++ {
			sx := b.Min.X + int(float64(x)/scale)
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}
