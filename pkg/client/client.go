// Package client talks to a running wireflow instance through its admin
// API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Client is an admin API client. It is safe for concurrent use
	Client struct {
		httpClient *http.Client
		baseURL    string
		token      string
		mu         sync.RWMutex
	}

	// Option configures a Client
	Option func(*Client)

	// StatusError is returned when the admin API answers with a failure
	// status. It wraps the operation's error
	StatusError struct {
		Err     error
		Message string
		Status  int
	}
)

const (
	DefaultTimeout = 30 * time.Second

	routeToken  = "/auth/token"
	routeRevoke = "/auth/revoke"
	routeHealth = "/health"
	routeFlows  = "/flows"
	routeState  = "/flows/state"
	routeFlow   = "/flow/%s"
	routeNodes  = "/nodes"
	routeInject = "/inject/%s"
)

var (
	ErrLogin        = errors.New("failed to log in")
	ErrLogout       = errors.New("failed to log out")
	ErrHealth       = errors.New("failed to get health")
	ErrGetFlows     = errors.New("failed to get flows")
	ErrGetFlow      = errors.New("failed to get flow")
	ErrDeploy       = errors.New("failed to deploy flows")
	ErrRuntimeState = errors.New("failed to change runtime state")
	ErrListNodes    = errors.New("failed to list node types")
	ErrInject       = errors.New("failed to inject message")
)

// WithToken authenticates requests with an existing access token
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout bounds each request
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the admin API mounted at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for an access token that authenticates
// every later request
func (c *Client) Login(ctx context.Context, username, password string) error {
	var res api.TokenResponse
	err := c.do(ctx, ErrLogin, http.MethodPost, routeToken, nil,
		api.TokenRequest{Username: username, Password: password}, &res,
	)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = res.AccessToken
	c.mu.Unlock()
	return nil
}

// Logout revokes the current access token
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, ErrLogout, http.MethodPost, routeRevoke, nil, nil, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

// Token returns the current access token, if any
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health reports the runtime's health
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var res api.HealthResponse
	err := c.do(ctx, ErrHealth, http.MethodGet, routeHealth, nil, nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Flows returns the deployed definition and its revision
func (c *Client) Flows(ctx context.Context) (*api.FlowsResponse, error) {
	var res api.FlowsResponse
	err := c.do(ctx, ErrGetFlows, http.MethodGet, routeFlows, nil, nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Flow returns one deployed flow
func (c *Client) Flow(
	ctx context.Context, id api.FlowID,
) (*api.FlowDocument, error) {
	var res api.FlowDocument
	err := c.do(ctx, ErrGetFlow, http.MethodGet,
		fmt.Sprintf(routeFlow, url.PathEscape(string(id))), nil, nil, &res,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Deploy submits a definition, given as a JSON array of flow, subflow, and
// node objects. A non-empty rev must match the running revision
func (c *Client) Deploy(
	ctx context.Context, flows json.RawMessage, mode api.DeployMode,
	rev string,
) (*api.DeployResult, error) {
	var res api.DeployResult
	headers := map[string]string{api.DeploymentTypeHeader: string(mode)}
	err := c.do(ctx, ErrDeploy, http.MethodPost, routeFlows, headers,
		api.DeployRequest{Flows: flows, Rev: rev}, &res,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RuntimeState reports whether the flows are started or stopped
func (c *Client) RuntimeState(ctx context.Context) (api.RuntimeState, error) {
	var res api.FlowStateResponse
	err := c.do(ctx, ErrRuntimeState, http.MethodGet, routeState, nil, nil,
		&res,
	)
	return res.State, err
}

// SetRuntimeState starts or stops every flow
func (c *Client) SetRuntimeState(
	ctx context.Context, state api.RuntimeState,
) error {
	return c.do(ctx, ErrRuntimeState, http.MethodPost, routeState, nil,
		api.FlowStateRequest{State: state}, nil,
	)
}

// Nodes lists the registered node types in palette order
func (c *Client) Nodes(ctx context.Context) ([]*api.NodeTypeInfo, error) {
	var res api.NodeTypesResponse
	err := c.do(ctx, ErrListNodes, http.MethodGet, routeNodes, nil, nil, &res)
	if err != nil {
		return nil, err
	}
	return res.Types, nil
}

// Inject triggers an input node. A nil msg lets the node build its own
func (c *Client) Inject(
	ctx context.Context, id api.NodeID, msg api.Message,
) error {
	return c.do(ctx, ErrInject, http.MethodPost,
		fmt.Sprintf(routeInject, url.PathEscape(string(id))), nil,
		api.InjectRequest{Msg: msg}, nil,
	)
}

func (c *Client) do(
	ctx context.Context, op error, method, path string,
	headers map[string]string, body, result any,
) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %w", op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

func statusError(op error, resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	res := &StatusError{Err: op, Status: resp.StatusCode}

	var er api.ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		res.Message = er.Error
	} else {
		res.Message = strings.TrimSpace(string(data))
	}
	return res
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Err, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Err, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 0 when err did not
// come from an admin API response
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
