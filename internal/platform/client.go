// Package platform implements the client for the group platform API:
// paginated audit log reads and the moderation endpoints the service
// calls during remediation.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/groupwatch/internal/auditlog"
	"github.com/onnwee/groupwatch/internal/remediation"
)

const (
	// AuditPageSize is the page size used for audit log reads.
	AuditPageSize = 100

	// maxAttempts bounds retries of one request across rate limits
	// and server errors.
	maxAttempts = 3

	// retryAfterFallback is used when a 429 carries no usable hint.
	retryAfterFallback = 5 * time.Second

	// serverErrorDelay spaces retries after a 5xx response.
	serverErrorDelay = 2 * time.Second
)

// Config configures the platform client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com/1".
	BaseURL string
	// AuthToken authenticates requests.
	AuthToken string
	// MinRequestInterval spaces outbound calls; see Limiter.
	MinRequestInterval time.Duration
	// Logger for client activity.
	Logger *slog.Logger
	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("AuthToken is required")
	}
	return nil
}

// Client talks to the platform group API. All methods respect the
// shared rate limiter and the bounded 429/5xx retry policy.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	limiter    *Limiter
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a platform API client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		limiter:    NewLimiter(cfg.MinRequestInterval),
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// rawAuditEntry is the wire shape of one audit log item.
type rawAuditEntry struct {
	ID                string `json:"id"`
	EventType         string `json:"eventType"`
	ActorID           string `json:"actorId"`
	ActorDisplayName  string `json:"actorDisplayName"`
	TargetID          string `json:"targetId"`
	TargetDisplayName string `json:"targetDisplayName"`
	Description       string `json:"description"`
	CreatedAt         string `json:"created_at"`
}

// auditLogResponse is the wire shape of one audit log page.
type auditLogResponse struct {
	Results    []json.RawMessage `json:"results"`
	TotalCount int               `json:"totalCount"`
}

// AuditLog fetches one page of a group's audit log, newest first.
// Individually malformed items are skipped, logged, and do not fail
// the page.
func (c *Client) AuditLog(ctx context.Context, groupID string, offset, n int) ([]*auditlog.Entry, error) {
	if n <= 0 {
		n = AuditPageSize
	}
	q := url.Values{}
	q.Set("n", strconv.Itoa(n))
	q.Set("offset", strconv.Itoa(offset))

	var resp auditLogResponse
	path := fmt.Sprintf("/groups/%s/auditLogs", url.PathEscape(groupID))
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	entries := make([]*auditlog.Entry, 0, len(resp.Results))
	for _, raw := range resp.Results {
		entry, err := c.decodeEntry(groupID, raw)
		if err != nil {
			c.logger.Warn("skipping malformed audit log entry",
				slog.String("group_id", groupID),
				slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) decodeEntry(groupID string, raw json.RawMessage) (*auditlog.Entry, error) {
	var item rawAuditEntry
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	if item.ID == "" {
		return nil, fmt.Errorf("entry has no id")
	}
	createdAt, err := time.Parse(time.RFC3339, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("entry %s has invalid created_at %q: %w", item.ID, item.CreatedAt, err)
	}
	return &auditlog.Entry{
		ID:          item.ID,
		GroupID:     groupID,
		EventType:   auditlog.EventType(item.EventType),
		ActorID:     item.ActorID,
		ActorName:   item.ActorDisplayName,
		TargetID:    item.TargetID,
		TargetName:  item.TargetDisplayName,
		Description: item.Description,
		CreatedAt:   createdAt.UTC(),
	}, nil
}

// memberRolesResponse is the wire shape of a member's role list.
type memberRolesResponse struct {
	Roles []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"roles"`
}

// MemberRoles returns a group member's current role assignments.
func (c *Client) MemberRoles(ctx context.Context, groupID, userID string) ([]remediation.Role, error) {
	var resp memberRolesResponse
	path := fmt.Sprintf("/groups/%s/members/%s/roles", url.PathEscape(groupID), url.PathEscape(userID))
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	roles := make([]remediation.Role, 0, len(resp.Roles))
	for _, r := range resp.Roles {
		roles = append(roles, remediation.Role{ID: r.ID, Name: r.Name})
	}
	return roles, nil
}

// successResponse is the wire shape of moderation endpoint results.
type successResponse struct {
	Success bool `json:"success"`
}

// RemoveRole revokes one role from a group member.
func (c *Client) RemoveRole(ctx context.Context, groupID, userID, roleID string) (bool, error) {
	path := fmt.Sprintf("/groups/%s/members/%s/roles/%s",
		url.PathEscape(groupID), url.PathEscape(userID), url.PathEscape(roleID))
	var resp successResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// KickMember removes a member from the group.
func (c *Client) KickMember(ctx context.Context, groupID, userID string) (bool, error) {
	return c.moderate(ctx, http.MethodDelete, fmt.Sprintf("/groups/%s/members/%s",
		url.PathEscape(groupID), url.PathEscape(userID)))
}

// BanMember bans a user from the group.
func (c *Client) BanMember(ctx context.Context, groupID, userID string) (bool, error) {
	return c.moderate(ctx, http.MethodPost, fmt.Sprintf("/groups/%s/bans/%s",
		url.PathEscape(groupID), url.PathEscape(userID)))
}

// UnbanMember lifts a user's group ban.
func (c *Client) UnbanMember(ctx context.Context, groupID, userID string) (bool, error) {
	return c.moderate(ctx, http.MethodDelete, fmt.Sprintf("/groups/%s/bans/%s",
		url.PathEscape(groupID), url.PathEscape(userID)))
}

// RespondInvite accepts or rejects a pending group join request.
func (c *Client) RespondInvite(ctx context.Context, groupID, userID string, accept bool) (bool, error) {
	action := "reject"
	if accept {
		action = "accept"
	}
	return c.moderate(ctx, http.MethodPut, fmt.Sprintf("/groups/%s/requests/%s/%s",
		url.PathEscape(groupID), url.PathEscape(userID), action))
}

func (c *Client) moderate(ctx context.Context, method, path string) (bool, error) {
	var resp successResponse
	if err := c.do(ctx, method, path, nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// do performs one API call with rate limiting and bounded retry. A
// 429 waits for the Retry-After hint (or the fallback) and retries
// the same request; 5xx retries up to the attempt bound.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn("platform request failed",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		status := resp.StatusCode
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		var payload []byte
		if status < 300 {
			payload, err = io.ReadAll(resp.Body)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			c.logger.Warn("platform rate limited",
				slog.String("path", path),
				slog.Duration("retry_after", retryAfter),
				slog.Int("attempt", attempt))
			if attempt < maxAttempts {
				if err := c.sleep(ctx, retryAfter); err != nil {
					return err
				}
			}
		case status >= 500:
			lastErr = fmt.Errorf("server error (%d)", status)
			c.logger.Warn("platform server error",
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempt", attempt))
			if attempt < maxAttempts {
				if err := c.sleep(ctx, serverErrorDelay); err != nil {
					return err
				}
			}
		case status >= 400:
			return fmt.Errorf("platform rejected request (%d) for %s", status, path)
		default:
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if out != nil {
				if err := json.Unmarshal(payload, out); err != nil {
					return fmt.Errorf("failed to decode response: %w", err)
				}
			}
			return nil
		}
	}
	return fmt.Errorf("platform request failed after %d attempts: %w", maxAttempts, lastErr)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return retryAfterFallback
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return retryAfterFallback
}
