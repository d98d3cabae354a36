package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAuthEndpoint is the private channel authorization endpoint.
const DefaultAuthEndpoint = "chat/pusher_auth.php"

// ChannelAuthorizer signs private channel subscriptions through the backend.
type ChannelAuthorizer struct {
	client   *Client
	endpoint string
}

// ChannelAuthorizer returns an authorizer posting to endpoint, or to
// DefaultAuthEndpoint when empty.
func (c *Client) ChannelAuthorizer(endpoint string) *ChannelAuthorizer {
	if endpoint == "" {
		endpoint = DefaultAuthEndpoint
	}
	return &ChannelAuthorizer{client: c, endpoint: endpoint}
}

// Authorize returns the "key:signature" auth string for channel.
func (a *ChannelAuthorizer) Authorize(ctx context.Context, socketID, channel string) (string, error) {
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)

	resp, err := a.client.do(ctx, request{
		method:      http.MethodPost,
		endpoint:    a.endpoint,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Auth string `json:"auth"`
	}
	if err := decodeBody(a.endpoint, resp.body, "", &out); err != nil {
		return "", err
	}
	if out.Auth == "" {
		return "", &APIError{Status: resp.status, Endpoint: a.endpoint, Message: "response has no auth signature"}
	}
	return out.Auth, nil
}

// PushIdentityToken exchanges the session token for a short-lived identity
// token the push provider accepts as proof of the external id.
func (c *Client) PushIdentityToken(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "push/identity_token.php", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &APIError{Status: http.StatusOK, Endpoint: "push/identity_token.php", Message: "response has no token"}
	}
	return out.Token, nil
}

// PushDevice describes this device to the push proxy.
type PushDevice struct {
	ExternalID     string `json:"external_id"`
	SubscriptionID string `json:"subscription_id"`
	IdentityToken  string `json:"identity_token,omitempty"`
	Platform       string `json:"platform,omitempty"`
}

// PushRegistration is the proxy's view of a device.
type PushRegistration struct {
	ExternalID     string `json:"external_id"`
	SubscriptionID string `json:"subscription_id"`
	ProviderID     string `json:"provider_id,omitempty"`
}

func (c *Client) PushLogin(ctx context.Context, d PushDevice) (*PushRegistration, error) {
	var reg PushRegistration
	if err := c.postJSON(ctx, "push/login.php", d, &reg); err != nil {
		return nil, fmt.Errorf("push login: %w", err)
	}
	return &reg, nil
}

func (c *Client) PushLogout(ctx context.Context, subscriptionID string) error {
	if err := c.postJSON(ctx, "push/logout.php", map[string]string{"subscription_id": subscriptionID}, nil); err != nil {
		return fmt.Errorf("push logout: %w", err)
	}
	return nil
}

// PushRepair asks the proxy to reattach subscriptionID to externalID on the
// provider side. The provider credentials stay on the server.
func (c *Client) PushRepair(ctx context.Context, d PushDevice) (*PushRegistration, error) {
	var reg PushRegistration
	if err := c.postJSON(ctx, "push/repair.php", d, &reg); err != nil {
		return nil, fmt.Errorf("push repair: %w", err)
	}
	return &reg, nil
}
