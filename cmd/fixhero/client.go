package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kalambet/fixhero/internal/config"
)

type apiClient struct {
	rc *resty.Client
}

// apiError is a non-success envelope returned by the daemon.
type apiError struct {
	Status           int
	Type             string
	Message          string
	RemainingSeconds int
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool `json:"success"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	RemainingTimeSeconds int  `json:"remainingTimeSeconds"`
	Degraded             bool `json:"degraded"`
}

func newClient(baseURL, token string, hc *http.Client) *apiClient {
	rc := resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")
	return &apiClient{rc: rc}
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return newClient(
		fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token,
		&http.Client{Timeout: 30 * time.Second},
	), nil
}

// call sends body as JSON and decodes the success envelope into out. A
// degraded read is reported on stderr but still decoded.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("server not reachable, is fixhero running? (%w)", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("server returned %d with an unreadable body: %w", resp.StatusCode(), err)
	}
	if resp.IsError() || !env.Success {
		apiErr := &apiError{Status: resp.StatusCode(), RemainingSeconds: env.RemainingTimeSeconds}
		if env.Error != nil {
			apiErr.Type, apiErr.Message = env.Error.Type, env.Error.Message
		}
		return apiErr
	}
	if env.Degraded {
		printWarning("storage is unavailable; showing what could be read")
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) put(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPut, path, body, out)
}

func (c *apiClient) patch(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPatch, path, body, out)
}

func (c *apiClient) delete(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// download fetches a non-envelope document such as an export.
func (c *apiClient) download(ctx context.Context, path string, query map[string]string) ([]byte, string, error) {
	resp, err := c.rc.R().SetContext(ctx).SetQueryParams(query).Get(path)
	if err != nil {
		return nil, "", fmt.Errorf("server not reachable, is fixhero running? (%w)", err)
	}
	if resp.IsError() {
		var env envelope
		apiErr := &apiError{Status: resp.StatusCode()}
		if json.Unmarshal(resp.Body(), &env) == nil && env.Error != nil {
			apiErr.Type, apiErr.Message = env.Error.Type, env.Error.Message
		}
		return nil, "", apiErr
	}
	return resp.Body(), resp.Header().Get("Content-Disposition"), nil
}

func isAPIError(err error, status int) (*apiError, bool) {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == status {
		return apiErr, true
	}
	return nil, false
}
