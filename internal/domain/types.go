package domain

import "fmt"

// PixelsPerInch is the CSS reference pixel density used to convert measured
// graphic sizes into paper sizes.
const PixelsPerInch = 96.0

// OutputMode selects what a render returns.
type OutputMode string

const (
	// OutputPDF returns only the printed PDF.
	OutputPDF OutputMode = "pdf"
	// OutputHTML returns the rendered document without printing it.
	OutputHTML OutputMode = "html"
	// OutputBoth returns the PDF and the rendered document.
	OutputBoth OutputMode = "both"
)

// ParseOutputMode validates a mode name. An empty name yields fallback.
func ParseOutputMode(s string, fallback OutputMode) (OutputMode, error) {
	switch OutputMode(s) {
	case "":
		return fallback, nil
	case OutputPDF, OutputHTML, OutputBoth:
		return OutputMode(s), nil
	}
	return "", NewError(KindValidation, "parse output mode", fmt.Errorf("unsupported format %q", s))
}

// WantsPDF reports whether the mode requires the print step.
func (m OutputMode) WantsPDF() bool { return m == OutputPDF || m == OutputBoth }

// WantsHTML reports whether the mode returns the rendered document.
func (m OutputMode) WantsHTML() bool { return m == OutputHTML || m == OutputBoth }

// MeasuredSize is the rendered client box of the first SVG element, in CSS pixels.
type MeasuredSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageSize is a paper size in inches.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageSize converts the measurement to inches at PixelsPerInch.
func (m MeasuredSize) PageSize() PageSize {
	return PageSize{Width: m.Width / PixelsPerInch, Height: m.Height / PixelsPerInch}
}

// PrintParams is the driver-neutral print-to-PDF request.
type PrintParams struct {
	PaperWidth      float64
	PaperHeight     float64
	PageRanges      string
	PrintBackground bool
}

// PrintParamsFor builds single-page, zero-margin params sized to size.
// Margins are always zero and CSS @page sizes are never preferred.
func PrintParamsFor(size PageSize, printBackground bool) PrintParams {
	return PrintParams{
		PaperWidth:      size.Width,
		PaperHeight:     size.Height,
		PageRanges:      "1",
		PrintBackground: printBackground,
	}
}

// Result is the outcome of one render.
type Result struct {
	Mode  OutputMode
	PDF   []byte
	HTML  string
	Size  MeasuredSize
	Page  PageSize
	Pages int
	// Cached is set when PDF came from the response cache.
	Cached bool
}

// SessionStats exposes browser session counters.
type SessionStats struct {
	Driver          string `json:"driver"`
	Version         string `json:"version"`
	Alive           bool   `json:"alive"`
	SessionsStarted int64  `json:"sessions_started"`
	PagesOpened     int64  `json:"pages_opened"`
	PagesClosed     int64  `json:"pages_closed"`
	OpenPages       int64  `json:"open_pages"`
	EventsPumped    int64  `json:"events_pumped"`
}
