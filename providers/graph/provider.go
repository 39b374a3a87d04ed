// Package graph implements the mail provider against a Microsoft Graph-style
// change-notification API over the protocol-neutral transport adapter.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-mailroom/core"
)

const ProviderID = "graph"

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

const messageSelectFields = "id,subject,bodyPreview,isRead,receivedDateTime,from"

type Config struct {
	// BaseURL is the API root, overridable for sovereign clouds and tests.
	BaseURL string
	// AccessToken provides the bearer token per call so rotation happens
	// outside the provider.
	AccessToken func(ctx context.Context) (string, error)
	// ChangeType is the subscribed change kind, created by default.
	ChangeType string
	// ExcludeSender pushes the sender-identity filter down into the list
	// query so the poller does not fetch our own output at all.
	ExcludeSender string
	// RequestTimeout bounds each API call.
	RequestTimeout time.Duration
	Transport      core.TransportAdapter
}

type Provider struct {
	baseURL        string
	accessToken    func(ctx context.Context) (string, error)
	changeType     string
	excludeSender  string
	requestTimeout time.Duration
	transport      core.TransportAdapter
}

func New(cfg Config) (*Provider, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("graph: transport adapter is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	changeType := strings.TrimSpace(cfg.ChangeType)
	if changeType == "" {
		changeType = "created"
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 20 * time.Second
	}
	return &Provider{
		baseURL:        baseURL,
		accessToken:    cfg.AccessToken,
		changeType:     changeType,
		excludeSender:  strings.TrimSpace(cfg.ExcludeSender),
		requestTimeout: requestTimeout,
		transport:      cfg.Transport,
	}, nil
}

func (p *Provider) CreateSubscription(ctx context.Context, req core.CreateSubscriptionRequest) (core.SubscriptionResult, error) {
	if p == nil {
		return core.SubscriptionResult{}, fmt.Errorf("graph: provider is not configured")
	}
	body, err := json.Marshal(subscriptionRequest{
		ChangeType:         p.changeType,
		NotificationURL:    req.CallbackURL,
		Resource:           resourcePath(req.ResourceRef),
		ExpirationDateTime: req.ExpiresAt.UTC().Format(time.RFC3339),
		ClientState:        req.ClientState,
	})
	if err != nil {
		return core.SubscriptionResult{}, fmt.Errorf("graph: encode subscription request: %w", err)
	}

	res, err := p.call(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    p.baseURL + "/subscriptions",
		Body:   body,
	})
	if err != nil {
		return core.SubscriptionResult{}, err
	}
	if err := p.checkStatus(res, http.StatusCreated, http.StatusOK); err != nil {
		return core.SubscriptionResult{}, err
	}
	return decodeSubscription(res.Body)
}

func (p *Provider) RenewSubscription(ctx context.Context, req core.RenewSubscriptionRequest) (core.SubscriptionResult, error) {
	if p == nil {
		return core.SubscriptionResult{}, fmt.Errorf("graph: provider is not configured")
	}
	body, err := json.Marshal(renewRequest{
		ExpirationDateTime: req.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return core.SubscriptionResult{}, fmt.Errorf("graph: encode renew request: %w", err)
	}

	res, err := p.call(ctx, core.TransportRequest{
		Method: http.MethodPatch,
		URL:    p.baseURL + "/subscriptions/" + url.PathEscape(req.RemoteSubscriptionID),
		Body:   body,
	})
	if err != nil {
		return core.SubscriptionResult{}, err
	}
	if res.StatusCode == http.StatusNotFound {
		return core.SubscriptionResult{}, p.notFound(res, core.ErrSubscriptionNotFound, "subscription", req.RemoteSubscriptionID)
	}
	if err := p.checkStatus(res, http.StatusOK); err != nil {
		return core.SubscriptionResult{}, err
	}
	return decodeSubscription(res.Body)
}

func (p *Provider) DeleteSubscription(ctx context.Context, remoteSubscriptionID string) error {
	if p == nil {
		return fmt.Errorf("graph: provider is not configured")
	}
	res, err := p.call(ctx, core.TransportRequest{
		Method: http.MethodDelete,
		URL:    p.baseURL + "/subscriptions/" + url.PathEscape(remoteSubscriptionID),
	})
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		return p.notFound(res, core.ErrSubscriptionNotFound, "subscription", remoteSubscriptionID)
	}
	return p.checkStatus(res, http.StatusNoContent, http.StatusOK)
}

func (p *Provider) GetMessage(ctx context.Context, itemRef string) (core.MailMessage, error) {
	if p == nil {
		return core.MailMessage{}, fmt.Errorf("graph: provider is not configured")
	}
	res, err := p.call(ctx, core.TransportRequest{
		Method: http.MethodGet,
		URL:    p.baseURL + "/messages/" + url.PathEscape(itemRef),
		Query:  map[string]string{"$select": messageSelectFields + ",body"},
	})
	if err != nil {
		return core.MailMessage{}, err
	}
	if res.StatusCode == http.StatusNotFound {
		return core.MailMessage{}, p.notFound(res, core.ErrItemNotFound, "message", itemRef)
	}
	if err := p.checkStatus(res, http.StatusOK); err != nil {
		return core.MailMessage{}, err
	}
	return decodeMessage(res.Body)
}

func (p *Provider) MarkConsumed(ctx context.Context, itemRef string) error {
	if p == nil {
		return fmt.Errorf("graph: provider is not configured")
	}
	res, err := p.call(ctx, core.TransportRequest{
		Method: http.MethodPatch,
		URL:    p.baseURL + "/messages/" + url.PathEscape(itemRef),
		Body:   []byte(`{"isRead":true}`),
	})
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		return p.notFound(res, core.ErrItemNotFound, "message", itemRef)
	}
	return p.checkStatus(res, http.StatusOK, http.StatusNoContent)
}

func (p *Provider) ListNewMessages(ctx context.Context, resourceRef string, limit int) ([]core.MailMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("graph: provider is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	filter := "isRead eq false"
	if p.excludeSender != "" {
		filter += fmt.Sprintf(" and from/emailAddress/address ne '%s'", EscapeFilterValue(p.excludeSender))
	}
	res, err := p.call(ctx, core.TransportRequest{
		Method: http.MethodGet,
		URL:    p.baseURL + "/" + resourcePath(resourceRef),
		Query: map[string]string{
			"$select":  messageSelectFields,
			"$filter":  filter,
			"$orderby": "receivedDateTime asc",
			"$top":     fmt.Sprintf("%d", limit),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := p.checkStatus(res, http.StatusOK); err != nil {
		return nil, err
	}
	return decodeMessageList(res.Body)
}

func (p *Provider) call(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Content-Type"] = "application/json"
	if p.accessToken != nil {
		token, err := p.accessToken(ctx)
		if err != nil {
			return core.TransportResponse{}, goerrors.Wrap(err, goerrors.CategoryAuth, "graph: resolve access token").
				WithCode(http.StatusUnauthorized).
				WithTextCode(core.MailroomErrorProviderUnavailable)
		}
		req.Headers["Authorization"] = "Bearer " + token
	}
	req.Timeout = p.requestTimeout

	res, err := p.transport.Do(ctx, req)
	if err != nil {
		return core.TransportResponse{}, core.MapError(err)
	}
	return res, nil
}

func (p *Provider) checkStatus(res core.TransportResponse, accepted ...int) error {
	for _, status := range accepted {
		if res.StatusCode == status {
			return nil
		}
	}

	code, message := decodeErrorDetail(res.Body)
	metadata := map[string]any{
		"provider":    ProviderID,
		"status_code": res.StatusCode,
		"error_code":  code,
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		// The retry-after hint travels with the error so callers can
		// honor provider pacing.
		if res.RetryAfter != nil {
			metadata["retry_after_s"] = res.RetryAfter.Seconds()
		}
		return goerrors.New(
			fmt.Sprintf("graph: throttled by provider: %s", message),
			goerrors.CategoryRateLimit,
		).
			WithCode(http.StatusTooManyRequests).
			WithTextCode(core.MailroomErrorRateLimited).
			WithMetadata(metadata)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return goerrors.New(
			fmt.Sprintf("graph: request rejected (%d): %s", res.StatusCode, message),
			goerrors.CategoryAuth,
		).
			WithCode(res.StatusCode).
			WithTextCode(core.MailroomErrorProviderUnavailable).
			WithMetadata(metadata)
	default:
		return goerrors.New(
			fmt.Sprintf("graph: unexpected status %d: %s", res.StatusCode, message),
			goerrors.CategoryExternal,
		).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.MailroomErrorProviderUnavailable).
			WithMetadata(metadata)
	}
}

func (p *Provider) notFound(res core.TransportResponse, sentinel error, kind, ref string) error {
	code, message := decodeErrorDetail(res.Body)
	return goerrors.Wrap(
		sentinel,
		goerrors.CategoryNotFound,
		fmt.Sprintf("graph: %s %s not found: %s", kind, ref, message),
	).
		WithCode(http.StatusNotFound).
		WithTextCode(core.MailroomErrorItemNotFound).
		WithMetadata(map[string]any{
			"provider":   ProviderID,
			"error_code": code,
		})
}

// resourcePath maps a mailbox reference to its messages collection path.
func resourcePath(resourceRef string) string {
	ref := core.NormalizeResourceRef(resourceRef)
	if strings.Contains(ref, "/") {
		return ref
	}
	return "users/" + url.PathEscape(ref) + "/mailFolders/inbox/messages"
}

var _ core.MailProvider = (*Provider)(nil)
