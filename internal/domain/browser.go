package domain

import "context"

// Browser is a launched browser process that hands out isolated pages.
// Implementations are safe for concurrent use.
type Browser interface {
	// NewPage opens a fresh rendering context. The caller must Close it.
	NewPage(ctx context.Context) (Page, error)
	// Done is closed once the session can no longer serve pages.
	Done() <-chan struct{}
	// Err reports why Done was closed, or nil while the session is alive.
	Err() error
	// Version is the product string reported by the launch handshake.
	Version() string
	Stats() SessionStats
	Close() error
}

// Page is one isolated rendering context. A Page is never shared between requests.
type Page interface {
	// EmulateScreen forces the "screen" media type.
	EmulateScreen(ctx context.Context) error
	// SetContent replaces the document with html.
	SetContent(ctx context.Context, html string) error
	// Measure returns the client size of the first SVG element in document
	// order, or ErrNoGraphic.
	Measure(ctx context.Context) (MeasuredSize, error)
	PrintPDF(ctx context.Context, params PrintParams) ([]byte, error)
	// OuterHTML returns the serialized rendered document.
	OuterHTML(ctx context.Context) (string, error)
	Close() error
}
