package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"svg2pdf/internal/config"
	"svg2pdf/internal/domain"
	"svg2pdf/internal/infra/logging"
)

// Renderer runs the render pipeline.
type Renderer interface {
	Render(ctx context.Context, markup string, mode domain.OutputMode) (*domain.Result, error)
}

// RenderRequest is the JSON body accepted by POST /render.
type RenderRequest struct {
	Format string  `json:"format"`
	Input  *string `json:"input"`
}

// BothResponse is returned for the "both" output mode. PDF is base64 encoded
// by the JSON encoder.
type BothResponse struct {
	HTML       string  `json:"html"`
	PDF        []byte  `json:"pdf"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PageWidth  float64 `json:"page_width"`
	PageHeight float64 `json:"page_height"`
	Pages      int     `json:"pages"`
	Cached     bool    `json:"cached"`
}

// RenderHandler serves POST /render.
type RenderHandler struct {
	svc         Renderer
	limits      limits
	defaultMode domain.OutputMode
}

type limits struct {
	upload int
	json   int
	pdf    int
}

// NewRenderHandler builds the handler. cfg.Render.OutputMode must already be
// validated.
func NewRenderHandler(svc Renderer, cfg config.Config) *RenderHandler {
	mode, err := domain.ParseOutputMode(cfg.Render.OutputMode, domain.OutputPDF)
	if err != nil {
		mode = domain.OutputPDF
	}
	return &RenderHandler{
		svc: svc,
		limits: limits{
			upload: cfg.Limits.MaxUploadBytes,
			json:   cfg.Limits.MaxJSONBytes,
			pdf:    cfg.Limits.MaxPDFBytes,
		},
		defaultMode: mode,
	}
}

// Handle accepts a multipart upload or a JSON body and returns the render
// output in the requested mode.
func (h *RenderHandler) Handle(c *fiber.Ctx) error {
	markup, format, err := h.parse(c)
	if err != nil {
		return err
	}
	mode, err := domain.ParseOutputMode(format, h.defaultMode)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid format: must be pdf, html or both")
	}

	ctx, cancel := requestContext(c.UserContext(), c.Context())
	defer cancel()

	res, err := h.svc.Render(ctx, markup, mode)
	if err != nil {
		return h.renderFailed(c, err)
	}

	requestID := c.GetRespHeader(fiber.HeaderXRequestID)
	logging.Info("SVG rendered",
		"mode", string(res.Mode),
		"width_px", res.Size.Width,
		"height_px", res.Size.Height,
		"cached", res.Cached,
		"request_id", requestID,
	)

	if mode.WantsPDF() && len(res.PDF) > h.limits.pdf {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "PDF exceeds allowed size")
	}

	switch mode {
	case domain.OutputHTML:
		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
		return c.SendString(res.HTML)
	case domain.OutputBoth:
		return c.JSON(BothResponse{
			HTML:       res.HTML,
			PDF:        res.PDF,
			Width:      res.Size.Width,
			Height:     res.Size.Height,
			PageWidth:  res.Page.Width,
			PageHeight: res.Page.Height,
			Pages:      res.Pages,
			Cached:     res.Cached,
		})
	}

	c.Set("X-Page-Width", formatFloat(res.Page.Width))
	c.Set("X-Page-Height", formatFloat(res.Page.Height))
	c.Set("X-Graphic-Width", formatFloat(res.Size.Width))
	c.Set("X-Graphic-Height", formatFloat(res.Size.Height))
	if res.Cached {
		c.Set("X-Cache", "HIT")
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	return c.Send(res.PDF)
}

func (h *RenderHandler) parse(c *fiber.Ctx) (markup, format string, err error) {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	switch {
	case strings.HasPrefix(ct, fiber.MIMEMultipartForm):
		if len(c.Body()) > h.limits.upload {
			return "", "", fiber.NewError(fiber.StatusRequestEntityTooLarge, "Upload exceeds "+strconv.Itoa(h.limits.upload)+" bytes")
		}
		return h.parseUpload(c)
	case strings.HasPrefix(ct, fiber.MIMEApplicationJSON):
		if len(c.Body()) > h.limits.json {
			return "", "", fiber.NewError(fiber.StatusRequestEntityTooLarge, "JSON body exceeds "+strconv.Itoa(h.limits.json)+" bytes")
		}
		var req RenderRequest
		if err := c.BodyParser(&req); err != nil {
			return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
		}
		if req.Input == nil {
			return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body: input is required")
		}
		return *req.Input, req.Format, nil
	}
	return "", "", fiber.NewError(fiber.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data or application/json")
}

// requestContext derives the render context from the request. The server
// context is done once shutdown starts, which cancels in-flight renders.
func requestContext(parent, server context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(server, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// parseUpload reads the "file" part, or the first file part in payload order
// when there is none.
func (h *RenderHandler) parseUpload(c *fiber.Ctx) (string, string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid file")
	}

	var data []byte
	if files := form.File["file"]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid file")
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid file")
		}
	} else {
		boundary := string(c.Context().Request.Header.MultipartFormBoundary())
		if data, err = firstFilePart(c.Body(), boundary); err != nil {
			return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid file")
		}
	}
	if !utf8.Valid(data) {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "Invalid file: not UTF-8 text")
	}

	var format string
	if v := form.Value["format"]; len(v) > 0 {
		format = v[0]
	}
	return string(data), format, nil
}

var errNoFilePart = errors.New("no file part")

// firstFilePart returns the content of the first part carrying a filename.
// The parsed form is keyed by field name and loses the payload order.
func firstFilePart(body []byte, boundary string) ([]byte, error) {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFilePart
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() == "" {
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		return data, err
	}
}

// renderFailed writes a pipeline error as a plain-text body with a status
// derived from its kind.
func (h *RenderHandler) renderFailed(c *fiber.Ctx, err error) error {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)
	requestID := c.GetRespHeader(fiber.HeaderXRequestID)
	if status >= fiber.StatusInternalServerError && kind != domain.KindBusy {
		logging.Error("SVG render failed", "kind", string(kind), "error", err, "request_id", requestID)
	} else {
		logging.Warn("SVG render rejected", "kind", string(kind), "error", err, "request_id", requestID)
	}
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	return c.Status(status).SendString(err.Error())
}

// StatusForKind maps a render error kind to an HTTP status.
func StatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindTimeout:
		return fiber.StatusRequestTimeout
	case domain.KindBusy, domain.KindConnection:
		return fiber.StatusServiceUnavailable
	case domain.KindValidation:
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
