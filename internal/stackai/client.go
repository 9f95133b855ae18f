// Package stackai is the REST client for the knowledge-base API: password
// login, connection and knowledge-base listings, membership updates and
// sync triggers.
package stackai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/ulid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Config configures the client
type Config struct {
	BaseURL           string
	AuthURL           string
	AnonKey           string
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
}

// Observer is notified after every API call
type Observer func(op string, statusCode int, duration time.Duration, err error)

// Client talks to the API on behalf of one session
type Client struct {
	baseURL    string
	authURL    string
	anonKey    string
	httpClient *http.Client
	authClient *http.Client
	session    *Session
	limiter    *rate.Limiter
	logger     *loggy.Logger
	observer   Observer
}

// NewClient creates a client bound to session
func NewClient(cfg Config, session *Session, logger *loggy.Logger) *Client {
	if session == nil {
		session = NewSession("")
	}
	if logger == nil {
		logger = loggy.GetGlobalLogger()
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}
	idleTimeout := cfg.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     idleTimeout,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		authURL: strings.TrimRight(cfg.AuthURL, "/"),
		anonKey: cfg.AnonKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: session, Base: base},
		},
		authClient: &http.Client{Timeout: cfg.Timeout, Transport: base},
		session:    session,
		limiter:    newLimiter(cfg.RequestsPerMinute, cfg.Burst),
		logger:     logger,
	}
}

func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, max(burst, 1))
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(burst, 1))
}

// SetObserver installs a callback run after every API call
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Session returns the session the client authenticates with
func (c *Client) Session() *Session {
	return c.session
}

// Login exchanges email and password for an access token and stores it in
// the session
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", fmt.Errorf("%w: email and password are required", ErrAuthRequired)
	}
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("marshaling login request: %w", err)
	}

	endpoint := c.authURL + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Apikey", c.anonKey)

	respBody, status, err := c.do(ctx, c.authClient, req, "login")
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		apiErr := newAPIError(status, respBody)
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return "", fmt.Errorf("%w: %s", ErrAuthRequired, apiErr.Error())
		}
		return "", apiErr
	}

	var out loginResponse
	if err := unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decoding login response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: login response carried no access token", ErrAuthRequired)
	}
	c.session.SetToken(out.AccessToken)
	return out.AccessToken, nil
}

// CurrentOrganization returns the caller's organization id
func (c *Client) CurrentOrganization(ctx context.Context) (string, error) {
	var out organizationResponse
	if err := c.sendRequest(ctx, "current_organization", http.MethodGet, "/organizations/me/current", nil, nil, &out); err != nil {
		return "", err
	}
	if out.OrgID == "" {
		return "", fmt.Errorf("organization response carried no org_id")
	}
	return out.OrgID, nil
}

// ListConnections lists connections for provider
func (c *Client) ListConnections(ctx context.Context, provider string, limit int) ([]Connection, error) {
	q := url.Values{}
	if provider != "" {
		q.Set("connection_provider", provider)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var raw json.RawMessage
	if err := c.sendRequest(ctx, "list_connections", http.MethodGet, "/connections", q, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Connection](raw)
}

// ListConnectionChildren lists the children of resourceID, or the connection
// root when resourceID is empty
func (c *Client) ListConnectionChildren(ctx context.Context, connectionID, resourceID string) ([]resource.Resource, error) {
	q := url.Values{}
	if resourceID != "" {
		q.Set("resource_id", resourceID)
	}
	p := fmt.Sprintf("/connections/%s/resources/children", url.PathEscape(connectionID))
	return c.listResources(ctx, "list_connection_children", p, q)
}

// ListKnowledgeBaseChildren lists the children of path inside a knowledge
// base. Unmaterialized paths fail with an error matching
// resource.ErrPathNotFound.
func (c *Client) ListKnowledgeBaseChildren(ctx context.Context, knowledgeBaseID, path string) ([]resource.Resource, error) {
	q := url.Values{}
	q.Set("resource_path", resource.NormalizePath(path))
	p := fmt.Sprintf("/knowledge_bases/%s/resources/children", url.PathEscape(knowledgeBaseID))
	return c.listResources(ctx, "list_knowledge_base_children", p, q)
}

func (c *Client) listResources(ctx context.Context, op, path string, q url.Values) ([]resource.Resource, error) {
	var raw json.RawMessage
	if err := c.sendRequest(ctx, op, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList[remoteResource](raw)
	if err != nil {
		return nil, fmt.Errorf("decoding resources: %w", err)
	}
	out := make([]resource.Resource, 0, len(items))
	for _, item := range items {
		out = append(out, item.toResource())
	}
	return out, nil
}

// GetKnowledgeBase fetches a knowledge base with its declared sources
func (c *Client) GetKnowledgeBase(ctx context.Context, knowledgeBaseID string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	p := "/knowledge_bases/" + url.PathEscape(knowledgeBaseID)
	if err := c.sendRequest(ctx, "get_knowledge_base", http.MethodGet, p, nil, nil, &kb); err != nil {
		return nil, err
	}
	if kb.KnowledgeBaseID == "" {
		kb.KnowledgeBaseID = knowledgeBaseID
	}
	return &kb, nil
}

// CreateKnowledgeBase creates a knowledge base and returns its id
func (c *Client) CreateKnowledgeBase(ctx context.Context, req CreateKnowledgeBaseRequest) (string, error) {
	if req.ConnectionSourceIDs == nil {
		req.ConnectionSourceIDs = []string{}
	}
	var out KnowledgeBase
	if err := c.sendRequest(ctx, "create_knowledge_base", http.MethodPost, "/knowledge_bases", nil, req, &out); err != nil {
		return "", err
	}
	if out.KnowledgeBaseID == "" {
		return "", fmt.Errorf("create response carried no knowledge_base_id")
	}
	return out.KnowledgeBaseID, nil
}

// UpdateKnowledgeBase replaces the full source set of a knowledge base
func (c *Client) UpdateKnowledgeBase(ctx context.Context, knowledgeBaseID, connectionID string, sourceIDs []string) error {
	if sourceIDs == nil {
		sourceIDs = []string{}
	}
	body := updateKnowledgeBaseRequest{ConnectionID: connectionID, ConnectionSourceIDs: sourceIDs}
	p := "/knowledge_bases/" + url.PathEscape(knowledgeBaseID)
	return c.sendRequest(ctx, "update_knowledge_base", http.MethodPatch, p, nil, body, nil)
}

// DeleteKnowledgeBaseResource removes the resource at path from a knowledge base
func (c *Client) DeleteKnowledgeBaseResource(ctx context.Context, knowledgeBaseID, path string) error {
	q := url.Values{}
	q.Set("resource_path", resource.NormalizePath(path))
	p := fmt.Sprintf("/knowledge_bases/%s/resources", url.PathEscape(knowledgeBaseID))
	return c.sendRequest(ctx, "delete_knowledge_base_resource", http.MethodDelete, p, q, nil, nil)
}

// TriggerSync asks the API to materialize the knowledge base. It returns once
// the request is accepted.
func (c *Client) TriggerSync(ctx context.Context, knowledgeBaseID, orgID string) error {
	p := fmt.Sprintf("/knowledge_bases/sync/trigger/%s/%s", url.PathEscape(knowledgeBaseID), url.PathEscape(orgID))
	return c.sendRequest(ctx, "trigger_sync", http.MethodGet, p, nil, nil, nil)
}

// sendRequest sends an authenticated request and decodes a 2xx body into out
func (c *Client) sendRequest(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	if !c.session.Authenticated() {
		return ErrAuthRequired
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, status, err := c.do(ctx, c.httpClient, req, op)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return newAPIError(status, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if err := unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request, op string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	requestID := ulid.RequestID()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.observe(op, 0, start, err)
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(op, resp.StatusCode, start, err)
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	c.observe(op, resp.StatusCode, start, nil)
	c.logger.Debug("API request",
		"request_id", requestID,
		"op", op,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	return respBody, resp.StatusCode, nil
}

func (c *Client) observe(op string, status int, start time.Time, err error) {
	if c.observer != nil {
		c.observer(op, status, time.Since(start), err)
	}
}
