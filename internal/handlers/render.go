package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"awmp-pdf/internal/cache"
	"awmp-pdf/internal/chrome"
	"awmp-pdf/internal/domain"
	u "awmp-pdf/internal/utils"
)

// cacheKey is swapped in tests.
var cacheKey = cache.Key

// RenderService bundles configuration and dependencies for PDF rendering.
type RenderService struct {
	Config   *u.Config
	Launcher chrome.Launcher
	Cache    *cache.PDFCache

	cacheScope string
}

// NewRenderService creates a RenderService. pdfCache may be nil.
func NewRenderService(cfg u.Config, launcher chrome.Launcher, pdfCache *cache.PDFCache) *RenderService {
	svc := &RenderService{
		Config:   &cfg,
		Launcher: launcher,
		Cache:    pdfCache,
	}
	if opts, err := chrome.OptionsFromConfig(cfg); err == nil {
		svc.cacheScope = opts.Print.Fingerprint()
	}
	return svc
}

// HandleRender authorizes and validates the JSON body, renders the HTML and
// replies with the PDF inline.
func (svc *RenderService) HandleRender(c *fiber.Ctx) error {
	req := decodeRenderRequest(c)

	html, err := domain.Check(svc.Config.Auth.Secret, req)
	if err != nil {
		return rejectRequest(c, err)
	}

	ctx := c.UserContext()
	var key string
	if svc.Cache != nil {
		key = cacheKey(html, svc.cacheScope)
		if cached := svc.Cache.Get(ctx, key); cached != nil {
			return svc.sendPDF(c, cached)
		}
	}

	pdf, err := svc.render(ctx, html)
	if err != nil {
		var re *domain.RenderError
		if !errors.As(err, &re) {
			re = &domain.RenderError{Err: err, Hint: svc.Config.PDF.FailureHint}
		}
		u.Error("PDF render failed", "error", re.Err, "request_id", requestID(c))
		body := fiber.Map{
			"error":   "PDF render failed",
			"details": re.Details(),
		}
		if re.Hint != "" {
			body["hint"] = re.Hint
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}

	if svc.Cache != nil {
		svc.Cache.Set(ctx, key, pdf)
	}
	u.Info("PDF generated", "bytes", len(pdf), "request_id", requestID(c))
	return svc.sendPDF(c, pdf)
}

// render runs exactly one engine session. The session is closed before render
// returns on every path; close failures are logged and never replace the
// render result.
func (svc *RenderService) render(ctx context.Context, html string) (pdf []byte, err error) {
	fail := func(err error) error {
		return &domain.RenderError{Err: err, Hint: svc.Config.PDF.FailureHint}
	}

	sess, err := svc.Launcher.Launch(ctx)
	if err != nil {
		return nil, fail(err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			u.Warn("Engine close failed", "error", cerr)
		}
	}()

	pdf, err = sess.Render(ctx, html)
	if err != nil {
		return nil, fail(err)
	}
	if len(pdf) == 0 {
		return nil, fail(errors.New("engine returned an empty PDF"))
	}
	return pdf, nil
}

func (svc *RenderService) sendPDF(c *fiber.Ctx, pdf []byte) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", svc.Config.PDF.Filename))
	return c.Status(fiber.StatusOK).Send(pdf)
}

// decodeRenderRequest parses a JSON body. A body that is empty, malformed or
// not sent as application/json yields an empty request, which then fails
// authorization.
func decodeRenderRequest(c *fiber.Ctx) domain.RenderRequest {
	var req domain.RenderRequest
	body := c.Body()
	if len(body) == 0 || !c.Is("json") {
		return req
	}
	if err := c.App().Config().JSONDecoder(body, &req); err != nil {
		u.Debug("Unparseable render request body", "error", err, "request_id", requestID(c))
		return domain.RenderRequest{}
	}
	return req
}

func rejectRequest(c *fiber.Ctx, err error) error {
	status, msg := fiber.StatusInternalServerError, "Internal Server Error"
	switch {
	case errors.Is(err, domain.ErrSecretNotConfigured):
		status, msg = fiber.StatusInternalServerError, "Server secret not configured"
	case errors.Is(err, domain.ErrBadSecret):
		status, msg = fiber.StatusUnauthorized, "Unauthorized (bad secret)"
	case errors.Is(err, domain.ErrUnauthorized):
		status, msg = fiber.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrInvalidHTML):
		status, msg = fiber.StatusBadRequest, "Invalid HTML payload"
	}
	u.Warn("Render request rejected", "status", status, "reason", err.Error(), "request_id", requestID(c))
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
