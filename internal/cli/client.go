package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/keel/pkg/domain"
)

// Client talks to the management API of a running process.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the API served at base, e.g. http://localhost:9990.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

// Submit posts op and decodes the response.
func (c *Client) Submit(ctx context.Context, op domain.Operation) (domain.Response, error) {
	var resp domain.Response
	body, err := json.Marshal(op)
	if err != nil {
		return resp, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/operations", bytes.NewReader(body))
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", "application/json")
	return resp, c.do(req, &resp)
}

// Tree reads the committed tree at addr.
func (c *Client) Tree(ctx context.Context, addr domain.Address, recursive bool) (*domain.Resource, error) {
	q := url.Values{}
	q.Set("address", addr.String())
	q.Set("recursive", strconv.FormatBool(recursive))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/tree?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var res domain.Resource
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParseParams turns k=v pairs into operation params. Values are decoded as JSON when they
// parse, so count=3 is a number and enabled=true a bool; anything else stays a string.
func ParseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("param %q is not key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			params[k] = decoded
		} else {
			params[k] = v
		}
	}
	return params, nil
}
