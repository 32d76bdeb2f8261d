// Package messaging sends SMS, renders voice/SMS replies and throttles
// outbound broadcasts.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kasuganosora/questline/config"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Transport delivers one SMS.
type Transport interface {
	SendSMS(ctx context.Context, to, body string) error
}

const (
	defaultSendTimeout = 15 * time.Second
	twilioAPIHost      = "api.twilio.com"
)

// TwilioTransport sends messages through the Twilio REST API.
type TwilioTransport struct {
	from   string
	client *twilio.RestClient
}

// NewTwilioTransport builds a transport for cfg. A non-empty
// cfg.TwilioBaseURL redirects API calls to that scheme and host, which
// test setups use to point at a local server.
func NewTwilioTransport(cfg config.MessagingConfig) *TwilioTransport {
	httpClient := &http.Client{Timeout: defaultSendTimeout}
	if cfg.TwilioBaseURL != "" {
		if u, err := url.Parse(cfg.TwilioBaseURL); err == nil && u.Host != "" {
			httpClient.Transport = &hostRewriter{scheme: u.Scheme, host: u.Host, next: http.DefaultTransport}
		}
	}
	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(cfg.TwilioAccountSID)
	return &TwilioTransport{
		from: cfg.FromNumber,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username:   cfg.TwilioAccountSID,
			Password:   cfg.TwilioAuthToken,
			AccountSid: cfg.TwilioAccountSID,
			Client:     base,
		}),
	}
}

func (t *TwilioTransport) SendSMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)
	if _, err := t.client.Api.CreateMessage(params); err != nil {
		var te *twilioclient.TwilioRestError
		if errors.As(err, &te) {
			return fmt.Errorf("twilio %d (code %d): %s", te.Status, te.Code, te.Message)
		}
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// hostRewriter sends requests for the Twilio API host to another origin.
type hostRewriter struct {
	scheme string
	host   string
	next   http.RoundTripper
}

func (h *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != twilioAPIHost {
		return h.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.URL.Scheme = h.scheme
	r.URL.Host = h.host
	r.Host = h.host
	return h.next.RoundTrip(r)
}

// LogTransport only logs messages. It backs development setups and keeps
// what it sent for inspection.
type LogTransport struct {
	mu     sync.Mutex
	sent   []Sent
	logger *zap.Logger
}

// Sent is one message handed to a LogTransport.
type Sent struct {
	To   string
	Body string
}

// NewLogTransport returns a transport that only logs.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) SendSMS(_ context.Context, to, body string) error {
	t.mu.Lock()
	t.sent = append(t.sent, Sent{To: to, Body: body})
	t.mu.Unlock()
	t.logger.Info("sms", zap.String("to", to), zap.String("body", body))
	return nil
}

// Sent returns a copy of everything sent so far.
func (t *LogTransport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// NewTransport picks the transport named by cfg.Provider.
func NewTransport(cfg config.MessagingConfig, logger *zap.Logger) (Transport, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogTransport(logger), nil
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.FromNumber == "" {
			return nil, fmt.Errorf("twilio provider needs account sid, auth token and from number")
		}
		return NewTwilioTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", cfg.Provider)
	}
}
