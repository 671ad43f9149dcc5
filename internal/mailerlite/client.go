// Package mailerlite is the MailerLite API adapter. It owns the provider's
// double-opt-in behavior, including the delete-then-recreate step needed to
// re-trigger the opt-in email for previously unsubscribed or unconfirmed
// remote records, since MailerLite only sends that email on creation.
//
// All methods surface failures as *ProviderError. Callers treat provider
// failures as degraded, never fatal: local subscriber state is authoritative
// and reconciliation repairs drift later.
package mailerlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-ec/newsletter/internal/pkg/httpretry"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
)

// Config holds the client settings.
type Config struct {
	APIKey      string
	BaseURL     string
	GroupName   string
	SenderEmail string
	SenderName  string
	Timeout     time.Duration
}

// Client is the MailerLite API client.
type Client struct {
	baseURL     string
	apiKey      string
	groupName   string
	senderEmail string
	senderName  string
	httpClient  httpretry.HTTPDoer
}

// NewClient creates a MailerLite API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://connect.mailerlite.com/api"
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		groupName:   cfg.GroupName,
		senderEmail: cfg.SenderEmail,
		senderName:  cfg.SenderName,
		httpClient:  httpretry.New(&http.Client{Timeout: timeout}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated request. It returns the body and
// status for 2xx and 404; every other outcome is a *ProviderError.
func (c *Client) doRequest(ctx context.Context, op, method, endpoint string, body any) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, 0, &ProviderError{Op: op, Err: fmt.Errorf("marshal request body: %w", err)}
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, 0, &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return respBody, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncate(respBody, 300)),
		}
	}
	return respBody, resp.StatusCode, nil
}

// EnsureGroup returns the ID of the configured group, creating it if absent.
func (c *Client) EnsureGroup(ctx context.Context) (string, error) {
	endpoint := "/groups?" + url.Values{"filter[name]": {c.groupName}}.Encode()
	body, _, err := c.doRequest(ctx, "ensure group", http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var list groupListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return "", &ProviderError{Op: "ensure group", Err: fmt.Errorf("parse response: %w", err)}
	}
	for _, g := range list.Data {
		if g.Name == c.groupName {
			return g.ID, nil
		}
	}

	body, _, err = c.doRequest(ctx, "create group", http.MethodPost, "/groups", createGroupRequest{Name: c.groupName})
	if err != nil {
		return "", err
	}
	var created groupResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", &ProviderError{Op: "create group", Err: fmt.Errorf("parse response: %w", err)}
	}
	logger.Info("created provider group", "group", c.groupName, "group_id", created.Data.ID)
	return created.Data.ID, nil
}

// GetSubscriber looks up a remote record by email. A 404 means absence and
// returns (nil, nil).
func (c *Client) GetSubscriber(ctx context.Context, email string) (*Subscriber, error) {
	body, status, err := c.doRequest(ctx, "get subscriber", http.MethodGet, "/subscribers/"+url.PathEscape(email), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	var resp subscriberResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Op: "get subscriber", Err: fmt.Errorf("parse response: %w", err)}
	}
	return &resp.Data, nil
}

// UpsertSubscriber creates or updates a remote record.
func (c *Client) UpsertSubscriber(ctx context.Context, email, status string, fields map[string]string, groupIDs ...string) (*Subscriber, error) {
	body, _, err := c.doRequest(ctx, "upsert subscriber", http.MethodPost, "/subscribers", upsertSubscriberRequest{
		Email:  email,
		Status: status,
		Fields: fields,
		Groups: groupIDs,
	})
	if err != nil {
		return nil, err
	}
	var resp subscriberResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{Op: "upsert subscriber", Err: fmt.Errorf("parse response: %w", err)}
	}
	return &resp.Data, nil
}

// DeleteSubscriber removes a remote record. Deleting an absent record is a
// no-op success.
func (c *Client) DeleteSubscriber(ctx context.Context, subscriberID string) error {
	_, _, err := c.doRequest(ctx, "delete subscriber", http.MethodDelete, "/subscribers/"+url.PathEscape(subscriberID), nil)
	return err
}

// AssignToGroup adds a remote subscriber to a group.
func (c *Client) AssignToGroup(ctx context.Context, subscriberID, groupID string) error {
	endpoint := fmt.Sprintf("/subscribers/%s/groups/%s", url.PathEscape(subscriberID), url.PathEscape(groupID))
	_, status, err := c.doRequest(ctx, "assign to group", http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return &ProviderError{Op: "assign to group", StatusCode: status, Err: fmt.Errorf("subscriber or group not found")}
	}
	return nil
}

// RemoveFromGroup removes a remote subscriber from a group. Absence is a
// no-op success.
func (c *Client) RemoveFromGroup(ctx context.Context, subscriberID, groupID string) error {
	endpoint := fmt.Sprintf("/subscribers/%s/groups/%s", url.PathEscape(subscriberID), url.PathEscape(groupID))
	_, _, err := c.doRequest(ctx, "remove from group", http.MethodDelete, endpoint, nil)
	return err
}

// ListGroupSubscribers returns one page of a group's subscribers. status
// filters by remote status when non-empty; cursor continues a previous page.
// An empty nextCursor means the listing is complete.
func (c *Client) ListGroupSubscribers(ctx context.Context, groupID, status, cursor string) (subs []Subscriber, nextCursor string, err error) {
	params := url.Values{"limit": {"100"}}
	if status != "" {
		params.Set("filter[status]", status)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("/groups/%s/subscribers?%s", url.PathEscape(groupID), params.Encode())

	body, httpStatus, err := c.doRequest(ctx, "list group subscribers", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	if httpStatus == http.StatusNotFound {
		return nil, "", &ProviderError{Op: "list group subscribers", StatusCode: httpStatus, Err: fmt.Errorf("group not found")}
	}

	var resp subscriberListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", &ProviderError{Op: "list group subscribers", Err: fmt.Errorf("parse response: %w", err)}
	}
	return resp.Data, resp.Meta.NextCursor, nil
}

// SendCampaign creates a campaign addressed to the group and schedules it for
// instant delivery. The outcome is binary: it either fully succeeds or the
// error describes which step failed.
func (c *Client) SendCampaign(ctx context.Context, groupID, name, subject, htmlContent string) error {
	if name == "" {
		name = "notification-" + uuid.New().String()
	}

	body, _, err := c.doRequest(ctx, "create campaign", http.MethodPost, "/campaigns", createCampaignRequest{
		Name:   name,
		Type:   "regular",
		Groups: []string{groupID},
		Emails: []campaignEmail{{
			Subject:  subject,
			FromName: c.senderName,
			From:     c.senderEmail,
			Content:  htmlContent,
		}},
	})
	if err != nil {
		return err
	}
	var created campaignResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return &ProviderError{Op: "create campaign", Err: fmt.Errorf("parse response: %w", err)}
	}
	if created.Data.ID == "" {
		return &ProviderError{Op: "create campaign", Err: fmt.Errorf("response missing campaign id")}
	}

	endpoint := fmt.Sprintf("/campaigns/%s/schedule", url.PathEscape(created.Data.ID))
	if _, _, err := c.doRequest(ctx, "schedule campaign", http.MethodPost, endpoint, scheduleCampaignRequest{Delivery: "instant"}); err != nil {
		return err
	}

	logger.Info("campaign scheduled", "campaign_id", created.Data.ID, "subject", subject)
	return nil
}

// EnsureNewsletterSubscriber puts an address into the opt-in flow. MailerLite
// only sends the double-opt-in email when a subscriber is created, so an
// existing unconfirmed or unsubscribed remote record has to be deleted and
// recreated to fire it again. An active remote record is left alone and only
// (re)attached to the group.
func (c *Client) EnsureNewsletterSubscriber(ctx context.Context, email string, fields map[string]string) error {
	groupID, err := c.EnsureGroup(ctx)
	if err != nil {
		return err
	}

	existing, err := c.GetSubscriber(ctx, email)
	if err != nil {
		return err
	}

	if existing != nil {
		switch existing.Status {
		case RemoteStatusActive:
			return c.AssignToGroup(ctx, existing.ID, groupID)
		case RemoteStatusUnconfirmed, RemoteStatusUnsubscribed:
			if err := c.DeleteSubscriber(ctx, existing.ID); err != nil {
				return err
			}
			logger.Debug("recreating remote subscriber for opt-in", "email", email, "previous_status", existing.Status)
		default:
			// bounced or junk remote records stay suppressed at the provider.
			return &ProviderError{Op: "ensure subscriber", Err: fmt.Errorf("remote record is %s", existing.Status)}
		}
	}

	_, err = c.UpsertSubscriber(ctx, email, RemoteStatusUnconfirmed, fields, groupID)
	return err
}

// MarkConfirmed flips the remote record to active after a local confirmation.
func (c *Client) MarkConfirmed(ctx context.Context, email string) error {
	_, err := c.UpsertSubscriber(ctx, email, RemoteStatusActive, nil)
	return err
}

// MarkUnsubscribed flips the remote record to unsubscribed after a local
// opt-out.
func (c *Client) MarkUnsubscribed(ctx context.Context, email string) error {
	_, err := c.UpsertSubscriber(ctx, email, RemoteStatusUnsubscribed, nil)
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
