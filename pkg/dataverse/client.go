// Package dataverse is the gateway to a Dataverse org: authenticated OData
// CRUD, unbound action invocation, and schema/relationship discovery. Field
// and action names vary per org, so nothing above this package hardcodes a
// navigation property - callers go through the discovery cache and the
// binding fallback helpers.
package dataverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/auth"
	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
)

const (
	maxBodyDiagnostics = 2000
	requestTimeout     = 30 * time.Second
)

// Client performs calls against one Dataverse org. All caches live on the
// instance (lifetime = object lifetime) so tests get isolation for free.
type Client struct {
	baseURL    string
	apiVersion string
	tokens     auth.TokenProvider
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	actionCache map[string]bool
	csdl        string
	csdlLoaded  bool
	relCache    map[string]*string
}

// NewClient creates a gateway for the given org.
func NewClient(baseURL, apiVersion string, tokens auth.TokenProvider, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiVersion:  apiVersion,
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: requestTimeout},
		logger:      logger,
		actionCache: make(map[string]bool),
		relCache:    make(map[string]*string),
	}
}

// BaseURL returns the org URL this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// APIVersion returns the versioned path segment in use.
func (c *Client) APIVersion() string { return c.apiVersion }

// EnvironmentID identifies the org for idempotency keys: switching orgs must
// never replay another org's chain.
func (c *Client) EnvironmentID() string {
	return strings.ToLower(c.baseURL) + "|" + strings.ToLower(c.apiVersion)
}

func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/api/data/%s/%s", c.baseURL, c.apiVersion, strings.TrimLeft(path, "/"))
}

// ODataEscape escapes a value for inclusion in a single-quoted OData string
// literal (single quotes double).
func ODataEscape(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// NormalizeGUID trims whitespace and surrounding braces from a record id.
func NormalizeGUID(value string) string {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "{")
	v = strings.TrimSuffix(v, "}")
	if id, err := uuid.Parse(v); err == nil {
		return id.String()
	}
	return v
}

func (c *Client) headers(ctx context.Context, includeAnnotations bool) (http.Header, error) {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("OData-MaxVersion", "4.0")
	h.Set("OData-Version", "4.0")
	h.Set("Accept", "application/json;odata.metadata=none")
	h.Set("Content-Type", "application/json; charset=utf-8")
	if includeAnnotations {
		// Formatted values and lookup logical names let callers make sense
		// of option sets and polymorphic lookups.
		h.Set("Prefer", `odata.include-annotations="OData.Community.Display.V1.FormattedValue,Microsoft.Dynamics.CRM.lookuplogicalname,Microsoft.Dynamics.CRM.associatednavigationproperty"`)
	}
	return h, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload any, includeAnnotations bool) (int, []byte, http.Header, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	// OData filter expressions contain literal spaces; percent-encode them so
	// the request line is valid HTTP.
	req.URL.RawQuery = strings.ReplaceAll(req.URL.RawQuery, " ", "%20")
	headers, err := c.headers(ctx, includeAnnotations)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s %s: %w", method, logging.SanitizeString(url), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

// Get retrieves a single record. 404 maps to NotFoundError, other non-2xx
// to RemoteError with the truncated body.
func (c *Client) Get(ctx context.Context, path string) (map[string]any, error) {
	status, body, _, err := c.do(ctx, http.MethodGet, c.apiURL(path), nil, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &NotFoundError{Path: path}
	}
	if status < 200 || status >= 300 {
		return nil, &RemoteError{Op: "GET " + path, Status: status, Body: logging.TruncateString(string(body), maxBodyDiagnostics)}
	}

	var out map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode GET %s: %w", path, err)
		}
	}
	return out, nil
}

// GetCollection retrieves a collection query and unwraps the OData "value"
// array.
func (c *Client) GetCollection(ctx context.Context, path string) ([]map[string]any, error) {
	record, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	raw, ok := record["value"].([]any)
	if !ok {
		return nil, nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		if m, ok := it.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

var entityIDPattern = regexp.MustCompile(`\(([0-9a-fA-F-]{36})\)\s*$`)

// Create inserts a record and returns its id, extracted from the
// OData-EntityId header or, failing that, from the response body. A 2xx
// without an extractable id is a fatal inconsistency, not retried.
func (c *Client) Create(ctx context.Context, entitySet string, payload map[string]any) (string, error) {
	status, body, header, err := c.do(ctx, http.MethodPost, c.apiURL(entitySet), payload, false)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &RemoteError{Op: "POST " + entitySet, Status: status, Body: logging.TruncateString(string(body), maxBodyDiagnostics)}
	}

	if loc := header.Get("OData-EntityId"); loc != "" {
		if m := entityIDPattern.FindStringSubmatch(loc); len(m) == 2 {
			return m[1], nil
		}
	}
	if len(body) > 0 {
		var record map[string]any
		if err := json.Unmarshal(body, &record); err == nil {
			idField := strings.TrimSuffix(entitySet, "s") + "id"
			for _, key := range []string{idField, "id"} {
				if v, ok := record[key].(string); ok && v != "" {
					return NormalizeGUID(v), nil
				}
			}
		}
	}
	return "", &RemoteError{
		Op:     "POST " + entitySet,
		Status: status,
		Body:   "create succeeded but no record id in OData-EntityId header or response body",
	}
}

// Update patches fields on an existing record.
func (c *Client) Update(ctx context.Context, entitySet, id string, fields map[string]any) error {
	path := fmt.Sprintf("%s(%s)", entitySet, NormalizeGUID(id))
	status, body, _, err := c.do(ctx, http.MethodPatch, c.apiURL(path), fields, false)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return &NotFoundError{Path: path}
	}
	if status < 200 || status >= 300 {
		return &RemoteError{Op: "PATCH " + path, Status: status, Body: logging.TruncateString(string(body), maxBodyDiagnostics)}
	}
	return nil
}

// InvokeAction executes an unbound action. Empty response bodies decode to
// an empty map.
func (c *Client) InvokeAction(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	status, body, _, err := c.do(ctx, http.MethodPost, c.apiURL(action), payload, false)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &NotFoundError{Path: action}
	}
	if status < 200 || status >= 300 {
		return nil, &RemoteError{Op: "POST " + action, Status: status, Body: logging.TruncateString(string(body), maxBodyDiagnostics)}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode action %s response: %w", action, err)
	}
	return out, nil
}

// ProbeActionExists reports whether an unbound action exists in this org.
// The primary strategy parses the org's CSDL document once per client
// lifetime; if that fails, an empty-payload invocation is issued and HTTP
// 404 is read as absent while any other status (auth or validation errors
// included) means the route exists. Gateway errors record the capability
// conservatively as absent.
func (c *Client) ProbeActionExists(ctx context.Context, action string) bool {
	c.mu.Lock()
	if exists, ok := c.actionCache[action]; ok {
		c.mu.Unlock()
		return exists
	}
	c.mu.Unlock()

	exists, viaCSDL := c.probeViaCSDL(ctx, action)
	if !viaCSDL {
		exists = c.probeViaInvoke(ctx, action)
	}

	c.mu.Lock()
	c.actionCache[action] = exists
	c.mu.Unlock()
	return exists
}

var actionNamePattern = regexp.MustCompile(`<Action\s+Name="([^"]+)"`)

func (c *Client) probeViaCSDL(ctx context.Context, action string) (exists, ok bool) {
	csdl, err := c.loadCSDL(ctx)
	if err != nil || csdl == "" {
		return false, false
	}
	for _, m := range actionNamePattern.FindAllStringSubmatch(csdl, -1) {
		if m[1] == action {
			return true, true
		}
	}
	return false, true
}

func (c *Client) loadCSDL(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.csdlLoaded {
		csdl := c.csdl
		c.mu.Unlock()
		return csdl, nil
	}
	c.mu.Unlock()

	status, body, _, err := c.do(ctx, http.MethodGet, c.apiURL("$metadata"), nil, false)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &RemoteError{Op: "GET $metadata", Status: status, Body: logging.TruncateString(string(body), maxBodyDiagnostics)}
	}

	c.mu.Lock()
	c.csdl = string(body)
	c.csdlLoaded = true
	c.mu.Unlock()
	return c.csdl, nil
}

func (c *Client) probeViaInvoke(ctx context.Context, action string) bool {
	status, _, _, err := c.do(ctx, http.MethodPost, c.apiURL(action), map[string]any{}, false)
	if err != nil {
		c.logger.Warn("action probe failed, recording capability as absent",
			zap.String("action", action),
			zap.String("error", logging.SanitizeError(err)))
		return false
	}
	// A 404 means the route does not exist. Anything else - including auth
	// and validation errors - means the action responded, so it exists.
	return status != http.StatusNotFound
}
