package pretix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pythonitalia/pycon-association/internal/pkg/env"
)

const defaultTimeout = 15 * time.Second

// maxPages bounds pagination so a misbehaving API cannot loop us forever.
const maxPages = 100

// APIError is a non-2xx answer from the pretix API.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pretix request %s failed: status=%d body=%s", e.URL, e.StatusCode, e.Body)
}

// Client is a read-only pretix REST API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:      strings.TrimSpace(token),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func NewClientFromEnv() *Client {
	return NewClient(
		env.GetEnv("PRETIX_API_URL", "https://pretix.eu/api/v1"),
		env.GetEnv("PRETIX_API_TOKEN", ""),
		env.GetEnvDuration("PRETIX_TIMEOUT", defaultTimeout),
	)
}

func (c *Client) eventURL(organizer, event string, parts ...string) string {
	segs := []string{c.BaseURL, "organizers", url.PathEscape(organizer), "events", url.PathEscape(event)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/") + "/"
}

// GetOrder fetches an order by code.
func (c *Client) GetOrder(ctx context.Context, organizer, event, code string) (*Order, error) {
	var o Order
	if err := c.get(ctx, c.eventURL(organizer, event, "orders", code), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListCategories returns all item categories of an event.
func (c *Client) ListCategories(ctx context.Context, organizer, event string) ([]Category, error) {
	return list[Category](ctx, c, c.eventURL(organizer, event, "categories"))
}

// ListItems returns the items of an event that belong to categoryID.
func (c *Client) ListItems(ctx context.Context, organizer, event string, categoryID int64) ([]Item, error) {
	u := c.eventURL(organizer, event, "items") + "?category=" + strconv.FormatInt(categoryID, 10)
	return list[Item](ctx, c, u)
}

func list[T any](ctx context.Context, c *Client, u string) ([]T, error) {
	var out []T
	next := u
	for i := 0; next != ""; i++ {
		if i >= maxPages {
			return nil, fmt.Errorf("pretix pagination exceeded %d pages for %s", maxPages, u)
		}
		var p page[T]
		if err := c.get(ctx, next, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, u string, out interface{}) error {
	if c.BaseURL == "" {
		return errors.New("PRETIX_API_URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Token "+c.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, URL: u, Body: truncate(string(body), 512)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode pretix response from %s: %w", u, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
