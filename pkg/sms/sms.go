// Package sms delivers parent text messages through a pluggable provider.
package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/pkg/phone"
)

// MaxBodyLength caps message bodies before they reach a provider.
const MaxBodyLength = 700

// Status is the delivery outcome of one message.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// ErrInvalidRecipient is returned when the number cannot be normalised.
var ErrInvalidRecipient = errors.New("invalid sms recipient")

// Result reports what happened to a message.
type Result struct {
	Status    Status `json:"status"`
	To        string `json:"to,omitempty"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Provider hands a normalised message to a carrier.
type Provider interface {
	Name() string
	Send(ctx context.Context, to, body string) (string, error)
}

// Gateway normalises recipients and bodies before delegating to a provider.
type Gateway struct {
	provider Provider
	region   string
	logger   *zap.Logger
}

// NewGateway builds a gateway. A nil provider skips every message.
func NewGateway(provider Provider, region string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if region == "" {
		region = phone.DefaultRegion
	}
	return &Gateway{provider: provider, region: region, logger: logger}
}

// Enabled reports whether a provider is configured.
func (g *Gateway) Enabled() bool {
	return g != nil && g.provider != nil
}

// Send delivers body to the raw phone number.
func (g *Gateway) Send(ctx context.Context, rawPhone, body string) (Result, error) {
	if !g.Enabled() {
		return Result{Status: StatusSkipped, Reason: "sms provider not configured"}, nil
	}
	to, err := phone.ToE164(rawPhone, g.region)
	if err != nil {
		return Result{Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	body = Truncate(strings.TrimSpace(body), MaxBodyLength)

	ref, err := g.provider.Send(ctx, to, body)
	if err != nil {
		g.logger.Warn("sms delivery failed",
			zap.String("provider", g.provider.Name()),
			zap.String("to", phone.Mask(to)),
			zap.Error(err),
		)
		return Result{Status: StatusFailed, To: to, Reason: err.Error()}, fmt.Errorf("send sms via %s: %w", g.provider.Name(), err)
	}
	g.logger.Info("sms delivered",
		zap.String("provider", g.provider.Name()),
		zap.String("to", phone.Mask(to)),
		zap.String("reference", ref),
	)
	return Result{Status: StatusDelivered, To: to, Reference: ref}, nil
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
