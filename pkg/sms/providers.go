package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-permit-api/pkg/config"
	"github.com/noah-isme/hostel-permit-api/pkg/phone"
)

const twilioBaseURL = "https://api.twilio.com"

// NewProvider selects a provider from configuration. It returns nil when SMS is disabled.
func NewProvider(cfg config.SMSConfig, client *http.Client, logger *zap.Logger) (Provider, error) {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none", "noop", "disabled":
		return nil, nil
	case "log":
		return NewLogProvider(logger), nil
	case "webhook":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("sms webhook provider requires SMS_ENDPOINT")
		}
		return &WebhookProvider{endpoint: cfg.Endpoint, token: cfg.AuthToken, client: client}, nil
	case "twilio":
		if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
			return nil, fmt.Errorf("twilio provider requires account sid, auth token and from number")
		}
		base := cfg.Endpoint
		if base == "" {
			base = twilioBaseURL
		}
		return &TwilioProvider{
			baseURL:    strings.TrimRight(base, "/"),
			accountSID: cfg.AccountSID,
			authToken:  cfg.AuthToken,
			from:       cfg.FromNumber,
			client:     client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}

// LogProvider writes messages to the log instead of sending them.
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider builds a provider for development setups.
func NewLogProvider(logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, to, body string) (string, error) {
	ref := "log-" + uuid.NewString()
	p.logger.Info("sms message", zap.String("to", phone.Mask(to)), zap.String("body", body), zap.String("reference", ref))
	return ref, nil
}

// WebhookProvider posts messages as JSON to an HTTP relay.
type WebhookProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

type webhookMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type webhookReply struct {
	ID string `json:"id"`
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Send(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(webhookMessage{To: to, Body: body})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	var reply webhookReply
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &reply)
	}
	return reply.ID, nil
}

// TwilioProvider sends messages through the Twilio REST API.
type TwilioProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

type twilioReply struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	var reply twilioReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode twilio reply: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, reply.Message)
	}
	return reply.SID, nil
}
