/*
Package push delivers notifications to devices through an Expo-compatible push gateway.

Only a DeviceNotRegistered ticket marks a delivery token as dead. Transport failures and
non-2xx answers from the gateway say nothing about a single token and are plain errors.
*/
package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// ErrInvalidToken reports that the gateway rejected the device token permanently.
var ErrInvalidToken = errors.New("push: invalid delivery token")

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 64 * 1024

// sendPath is the suffix the SDK appends to the API base path.
const sendPath = "/push/send"

// Notification is one message for one device.
type Notification struct {
	Token string
	Title string
	Body  string
	Image string
	Data  map[string]string
}

// Gateway submits notifications.
type Gateway interface {
	Push(ctx context.Context, n Notification) error
}

// HTTPGateway publishes notifications with the Expo push client.
type HTTPGateway struct {
	config    expo.ClientConfig
	transport http.RoundTripper
	timeout   time.Duration
}

// NewHTTPGateway creates a gateway client. endpoint is either a bare host
// ("https://exp.host") or a full send URL; accessToken may be empty.
func NewHTTPGateway(endpoint, accessToken string, timeout time.Duration) *HTTPGateway {
	host, apiURL := splitEndpoint(endpoint)

	return &HTTPGateway{
		config: expo.ClientConfig{
			Host:        host,
			APIURL:      apiURL,
			AccessToken: accessToken,
		},
		transport: http.DefaultTransport,
		timeout:   timeout,
	}
}

// splitEndpoint separates scheme and host from the API base path. An empty
// path leaves the SDK default in place.
func splitEndpoint(endpoint string) (host, apiURL string) {
	endpoint = strings.TrimSuffix(strings.TrimRight(endpoint, "/"), sendPath)

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return endpoint, ""
	}

	return u.Scheme + "://" + u.Host, strings.TrimRight(u.Path, "/")
}

// Push sends n and classifies the outcome. A permanently rejected token yields ErrInvalidToken.
func (g *HTTPGateway) Push(ctx context.Context, n Notification) error {
	data := n.Data
	if n.Image != "" {
		data = make(map[string]string, len(n.Data)+1)
		for k, v := range n.Data {
			data[k] = v
		}
		data["image"] = n.Image
	}

	msg := &expo.PushMessage{
		To:       []expo.ExponentPushToken{expo.ExponentPushToken(n.Token)},
		Title:    n.Title,
		Body:     n.Body,
		Data:     data,
		Sound:    "default",
		Priority: expo.HighPriority,
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ticket, err := g.client(ctx).Publish(msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("push request: %w", ctxErr)
		}
		return fmt.Errorf("push request: %w", err)
	}

	err = ticket.ValidateResponse()
	var unregistered *expo.DeviceNotRegisteredError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &unregistered):
		return fmt.Errorf("%w: %s", ErrInvalidToken, unregistered.Error())
	default:
		return fmt.Errorf("push rejected (%s): %w", ticket.Details["error"], err)
	}
}

// client builds a push client whose requests carry ctx.
func (g *HTTPGateway) client(ctx context.Context) *expo.PushClient {
	cfg := g.config
	cfg.HTTPClient = &http.Client{Transport: &contextTransport{ctx: ctx, base: g.transport}}
	return expo.NewPushClient(&cfg)
}

// contextTransport binds requests to ctx and buffers the response body,
// since the push client decodes the body without closing it.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read push response: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(raw))

	return res, nil
}
