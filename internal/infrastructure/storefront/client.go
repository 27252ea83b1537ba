package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/kesimarket-storefront/internal/auth"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnauthorized = errors.New("storefront: unauthorized")
	ErrCircuitOpen  = errors.New("storefront: circuit open")
)

// APIError is a non-2xx answer from the backend
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("storefront: HTTP %d", e.Status)
	}
	return fmt.Sprintf("storefront: HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type Options struct {
	HTTPClient *http.Client
	// Consecutive transport or 5xx failures before the breaker opens
	BreakerFailures uint32
	// How long the breaker stays open before letting a probe through
	BreakerCooldown time.Duration
	// Upper bound for a shared cart fetch, which outlives any one caller
	FetchTimeout time.Duration
}

// Client talks to the storefront cart API
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	breaker *gobreaker.CircuitBreaker[[]byte]
	fetches singleflight.Group

	fetchTimeout time.Duration
}

func NewClient(baseURL string, tokens auth.TokenSource, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown == 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = 15 * time.Second
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "storefront-cart",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx answers mean the backend is healthy
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Storefront] Circuit %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		tokens:  tokens,
		breaker: breaker,

		fetchTimeout: opts.FetchTimeout,
	}
}

// FetchCart returns the server cart. Concurrent calls made with the same token
// share one request. The shared request is detached from each caller's
// cancellation and bounded by FetchTimeout; a caller whose ctx ends stops
// waiting without failing the others.
func (c *Client) FetchCart(ctx context.Context) (*RemoteCart, error) {
	key := "cart:" + c.tokens.AccessToken()
	ch := c.fetches.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		var out RemoteCart
		if err := c.do(fctx, http.MethodGet, "/cart", nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RemoteCart), nil
	}
}

func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (*RemoteCartItem, error) {
	var out RemoteCartItem
	if err := c.do(ctx, http.MethodPost, "/cart/items", addItemRequest{ProductID: productID, Quantity: quantity}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCartItem(ctx context.Context, itemID string, quantity int) (*RemoteCartItem, error) {
	var out RemoteCartItem
	path := "/cart/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodPatch, path, updateItemRequest{Quantity: quantity}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveFromCart(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(itemID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}
