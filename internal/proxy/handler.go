package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// Handler 把 Fiber 请求交给 Interceptor，并把结果写回客户端。
type Handler struct {
	interceptor *Interceptor
	logger      *logrus.Logger
	passthrough bool
}

// NewHandler 构造受控请求的 handler：先查缓存再回源。
func NewHandler(interceptor *Interceptor, logger *logrus.Logger) *Handler {
	return &Handler{interceptor: interceptor, logger: logger}
}

// NewPassthroughHandler 构造不受控请求的 handler：直接回源。
func NewPassthroughHandler(interceptor *Interceptor, logger *logrus.Logger) *Handler {
	return &Handler{interceptor: interceptor, logger: logger, passthrough: true}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildRequest(ctx, c)
	if err != nil {
		h.logResult(c.Method(), c.OriginalURL(), requestID, 0, nil, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	var result *Result
	if h.passthrough {
		var resp *http.Response
		resp, err = h.interceptor.Forward(ctx, req)
		if err == nil {
			result = &Result{Response: resp}
		}
	} else {
		result, err = h.interceptor.Intercept(ctx, req)
	}
	if err != nil {
		h.logResult(req.Method, req.URL.String(), requestID, 0, nil, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer result.Response.Body.Close()

	copyResponseHeaders(c, result.Response.Header)
	c.Set("X-Offline-Hub-Cache-Hit", fmt.Sprintf("%t", result.CacheHit))
	if result.Generation != "" {
		c.Set("X-Offline-Hub-Generation", result.Generation)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(result.Response.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(req.Method, req.URL.String(), requestID, result.Response.StatusCode, result, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), result.Response.Body)
	h.logResult(req.Method, req.URL.String(), requestID, result.Response.StatusCode, result, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func buildRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), c.OriginalURL(), body)
	if err != nil {
		return nil, err
	}
	req.Header = fiberHeadersAsHTTP(c)
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(method, url, requestID string, status int, result *Result, started time.Time, err error) {
	cacheHit := false
	gen := ""
	if result != nil {
		cacheHit = result.CacheHit
		gen = result.Generation
	}
	fields := logging.RequestFields(method, url, gen, cacheHit)
	fields["action"] = "proxy"
	fields["passthrough"] = h.passthrough
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
