// Package gateway is the Remote Data Gateway: a JSON client for the agency
// backend that owns every record. All camelCase/snake_case translation and
// all error normalization happen here and nowhere else.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"agencycrm/internal/apierr"
	"agencycrm/internal/config"
	"agencycrm/internal/utils/logger"
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient builds a client from the backend section of the config.
func NewClient(cfg config.BackendConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		authToken:  cfg.Token,
		limiter:    limiter,
		log:        logger.New("GATEWAY"),
	}
}

// SetAuthToken sets the bearer token sent with every request.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// do sends body (camelCase, converted to snake_case) and decodes the response
// (snake_case, converted to camelCase) into out. Every failure comes back as
// an *apierr.Error.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apierr.Transient(fmt.Errorf("%s %s: throttled: %w", method, path, err))
		}
	}

	var bodyReader io.Reader
	if body != nil {
		wire, err := encodeWire(body)
		if err != nil {
			return apierr.Transient(fmt.Errorf("failed to marshal request body: %w", err))
		}
		bodyReader = bytes.NewReader(wire)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return apierr.Transient(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("%s %s failed after %s: %v", method, path, time.Since(start), err)
		return apierr.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	c.log.Debug("%s %s -> %d in %s", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		return parseErrorBody(resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := decodeWire(data, out); err != nil {
		return apierr.Transient(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// encodeWire marshals v through a generic map so keys can be rewritten.
func encodeWire(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(ToWire(generic))
}

// decodeWire unwraps a {"data": ...} envelope if present, rewrites keys and
// decodes into out.
func decodeWire(data []byte, out interface{}) error {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	if envelope, ok := generic.(map[string]interface{}); ok && isEnvelope(envelope) {
		generic = envelope["data"]
	}
	converted, err := json.Marshal(stringifyIDs(FromWire(generic)))
	if err != nil {
		return err
	}
	return json.Unmarshal(converted, out)
}

var envelopeKeys = map[string]bool{
	"data": true, "total": true, "page": true, "limit": true,
	"message": true, "success": true, "status": true,
}

func isEnvelope(m map[string]interface{}) bool {
	inner, ok := m["data"]
	if !ok {
		return false
	}
	switch inner.(type) {
	case []interface{}, map[string]interface{}:
	default:
		return false
	}
	for key := range m {
		if !envelopeKeys[key] {
			return false
		}
	}
	return true
}

// stringifyIDs turns numeric identifiers into strings; the backend issues
// integer keys but every in-memory id is a string.
func stringifyIDs(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if n, ok := val.(float64); ok && isIDKey(k) {
				t[k] = strconv.FormatInt(int64(n), 10)
				continue
			}
			t[k] = stringifyIDs(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = stringifyIDs(val)
		}
		return t
	default:
		return v
	}
}

func isIDKey(key string) bool {
	if key == "id" || strings.HasSuffix(key, "Id") {
		return true
	}
	_, ok := wireOverrides[key]
	return ok
}
