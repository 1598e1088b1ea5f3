package business

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tricreative/voicebridge/internal/reliability"
)

// ErrLookupFailed marks context-provider failures. Callers fall back to the
// static instructions and never fail call setup over it.
var ErrLookupFailed = errors.New("context provider lookup failed")

// Business is the metadata payload returned by the context provider.
type Business struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Email       string   `json:"email,omitempty"`
	Website     string   `json:"website,omitempty"`
	Hours       string   `json:"hours,omitempty"`
	Services    []string `json:"services,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
}

// Client performs keyed lookups against the context provider's REST API.
type Client struct {
	http       *resty.Client
	businessID string
}

func NewClient(baseURL, apiKey, businessID string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || reliability.IsRetryableHTTPStatus(r.StatusCode())
		}).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			return reliability.ExponentialBackoff(r.Request.Attempt, 200*time.Millisecond, 2*time.Second), nil
		})
	if strings.TrimSpace(apiKey) != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c, businessID: businessID}
}

func (c *Client) Fetch(ctx context.Context) (*Business, error) {
	var b Business
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&b).
		Get("/business/" + c.businessID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode())
	}
	if strings.TrimSpace(b.Name) == "" {
		return nil, fmt.Errorf("%w: response without a business name", ErrLookupFailed)
	}
	return &b, nil
}
