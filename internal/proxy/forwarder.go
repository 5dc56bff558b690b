package proxy

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/server"
)

// Scope 判断连接是否受 worker 控制，*worker.ClientScope 直接满足。
type Scope interface {
	Controls(connOpened time.Time) bool
}

// Forwarder 根据连接是否受控选择 handler：受控连接走 cache-first，其余直接回源。
type Forwarder struct {
	controlled  server.ProxyHandler
	passthrough server.ProxyHandler
	scope       Scope
	logger      *logrus.Logger
}

// NewForwarder 创建 Forwarder。scope 为 nil 时所有连接都视为受控。
func NewForwarder(controlled, passthrough server.ProxyHandler, scope Scope, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		controlled:  controlled,
		passthrough: passthrough,
		scope:       scope,
		logger:      logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx) error {
	requestID := server.RequestID(c)
	handler := f.lookup(c)
	if handler == nil {
		return f.respondMissingHandler(c, requestID)
	}
	return f.invokeHandler(c, handler, requestID)
}

func (f *Forwarder) lookup(c fiber.Ctx) server.ProxyHandler {
	if f.scope == nil || f.scope.Controls(connOpened(c)) {
		return f.controlled
	}
	return f.passthrough
}

// connOpened 返回底层连接的建立时间，取不到时视为当前时刻。
func connOpened(c fiber.Ctx) time.Time {
	if rc := c.RequestCtx(); rc != nil {
		if t := rc.ConnTime(); !t.IsZero() {
			return t
		}
	}
	return time.Now()
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, requestID string) error {
	f.logProxyError(c, "proxy_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "proxy_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, r, requestID)
		}
	}()
	return handler.Handle(c)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, recovered interface{}, requestID string) error {
	f.logProxyError(c, "proxy_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "proxy_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logProxyError(c fiber.Ctx, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "proxy",
		"method": c.Method(),
		"url":    c.OriginalURL(),
		"error":  code,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}
