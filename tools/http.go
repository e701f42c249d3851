package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
	"github.com/deepnoodle-ai/flowgraph/retry"
)

// maxResponseBytes bounds how much of a response body the http tool reads.
const maxResponseBytes = 10 << 20

type httpParams struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	JSON            any               `json:"json"`
	Timeout         float64           `json:"timeout"`
	FollowRedirects *bool             `json:"follow_redirects"`
}

// NewHTTPTool performs HTTP requests with client. Server errors and 429
// responses are transient so the node's retry policy applies to them;
// other non-2xx responses are returned with success set to false.
func NewHTTPTool(client *http.Client) Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return Typed("http", "Performs an HTTP request and returns the response.", func(ctx context.Context, params httpParams) (map[string]any, error) {
		if params.URL == "" {
			return nil, retry.Permanent(errors.New("http requires a 'url' parameter"))
		}
		method := strings.ToUpper(params.Method)
		if method == "" {
			method = http.MethodGet
		}
		if params.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(params.Timeout*float64(time.Second)))
			defer cancel()
		}

		var body io.Reader
		if params.JSON != nil {
			data, err := xjson.Marshal(params.JSON)
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("encode json body: %w", err))
			}
			body = bytes.NewReader(data)
		} else if params.Body != "" {
			body = strings.NewReader(params.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, params.URL, body)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		for k, v := range params.Headers {
			req.Header.Set(k, v)
		}
		if params.JSON != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		c := client
		if params.FollowRedirects != nil && !*params.FollowRedirects {
			copied := *client
			copied.CheckRedirect = func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}
			c = &copied
		}
		resp, err := c.Do(req)
		if err != nil {
			return nil, retry.Transient(fmt.Errorf("%s %s: %w", method, params.URL, err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, retry.Transient(fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Transient(fmt.Errorf("%s %s: %s", method, params.URL, resp.Status))
		}

		headers := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		out := map[string]any{
			"status_code": resp.StatusCode,
			"status":      resp.Status,
			"headers":     headers,
			"body":        string(data),
			"success":     resp.StatusCode >= 200 && resp.StatusCode < 300,
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "json") {
			var decoded any
			if err := xjson.Unmarshal(data, &decoded); err == nil {
				out["json"] = decoded
			}
		}
		return out, nil
	})
}
