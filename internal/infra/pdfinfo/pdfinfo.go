// Package pdfinfo reads page geometry back out of rendered PDFs.
package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PointsPerInch is the PDF user-space unit density.
const PointsPerInch = 72.0

var configOnce sync.Once

// Info describes a parsed PDF. Width and Height are the first page's media
// box in points.
type Info struct {
	Pages  int     `json:"pages"`
	Width  float64 `json:"width_pt"`
	Height float64 `json:"height_pt"`
}

func (i Info) WidthInches() float64  { return i.Width / PointsPerInch }
func (i Info) HeightInches() float64 { return i.Height / PointsPerInch }

// Inspect parses buf and reports its page count and first page size.
func Inspect(buf []byte) (Info, error) {
	if len(buf) == 0 {
		return Info{}, errors.New("empty PDF")
	}
	// pdfcpu would otherwise create a config dir under the user's home.
	configOnce.Do(api.DisableConfigDir)

	ctx, err := api.ReadContext(bytes.NewReader(buf), model.NewDefaultConfiguration())
	if err != nil {
		return Info{}, fmt.Errorf("failed to read PDF: %w", err)
	}
	// ReadContext leaves PageCount unset; PageDims sizes its result from it.
	if err := ctx.EnsurePageCount(); err != nil {
		return Info{}, fmt.Errorf("failed to count pages: %w", err)
	}
	if ctx.PageCount < 1 {
		return Info{}, errors.New("PDF has no pages")
	}
	dims, err := ctx.PageDims()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if len(dims) == 0 {
		return Info{}, errors.New("PDF has no page dimensions")
	}
	return Info{Pages: ctx.PageCount, Width: dims[0].Width, Height: dims[0].Height}, nil
}
