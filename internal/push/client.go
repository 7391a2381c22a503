// Package push delivers content-only heartbeat notifications to device
// push platforms. Each Client talks to a single platform environment.
package push

import (
	"context"
	"net/http"

	"github.com/sideshow/apns2"
	"go.uber.org/zap"
)

// Client sends one content-only notification to a device token
type Client interface {
	Send(ctx context.Context, token string) (*Response, error)
}

// Response is the platform's verdict on a single notification
type Response struct {
	Token      string
	ID         string
	StatusCode int
	Reason     string
}

// Accepted reports whether the platform took the notification
func (r *Response) Accepted() bool {
	return r.StatusCode == http.StatusOK
}

// Permanent reports whether the rejection means the token will never work again
func (r *Response) Permanent() bool {
	return !r.Accepted() && IsPermanentRejection(r.Reason)
}

// IsPermanentRejection reports whether reason marks a dead device token
func IsPermanentRejection(reason string) bool {
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return true
	default:
		return false
	}
}

// LoggingClient accepts every notification without sending it. It stands in
// for the platform when push delivery is disabled.
type LoggingClient struct {
	logger *zap.Logger
	env    string
}

// NewLoggingClient creates a client that only logs
func NewLoggingClient(logger *zap.Logger, env string) *LoggingClient {
	return &LoggingClient{
		logger: logger.With(zap.String("component", "push"), zap.String("env", env)),
		env:    env,
	}
}

// Send logs the token and reports acceptance
func (c *LoggingClient) Send(ctx context.Context, token string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.logger.Debug("Heartbeat push skipped, delivery disabled", zap.Int("token_length", len(token)))
	return &Response{Token: token, StatusCode: http.StatusOK}, nil
}
