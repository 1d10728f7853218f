// Package remote implements the report collaborator over the civicsync
// HTTP API so a session can run in a different process from the store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/evidence"
	"github.com/rpggio/civicsync/internal/transport"
)

const defaultRequestTimeout = 30 * time.Second

// ErrUnauthorized indicates the server rejected the bearer token.
var ErrUnauthorized = errors.New("remote: unauthorized")

// Options configures a Client.
type Options struct {
	// HTTPClient must not set an overall Timeout, or change streams would
	// be cut off. Per-call deadlines come from RequestTimeout.
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Client talks to a civicsync server on behalf of one bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ report.Collaborator = (*Client)(nil)
	_ evidence.Store      = (*Client)(nil)
)

// New creates a client for baseURL.
func New(baseURL, token string, opts Options) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote base url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing remote base url: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("remote token is empty")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    opts.HTTPClient,
		timeout: opts.RequestTimeout,
		logger:  opts.Logger,
	}, nil
}

// Select lists reports. The server narrows citizens to their own rows
// regardless of q.ReporterID.
func (c *Client) Select(ctx context.Context, q report.Query) ([]report.Report, error) {
	params := url.Values{}
	if q.ReporterID != "" {
		params.Set("user_id", q.ReporterID)
	}
	for _, st := range q.Statuses {
		params.Add("status", string(st))
	}
	if q.Ascending {
		params.Set("order", "asc")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []report.Report
	if err := c.do(ctx, http.MethodGet, "/v1/reports", params, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Get returns one report.
func (c *Client) Get(ctx context.Context, id string) (*report.Report, error) {
	var rep report.Report
	if err := c.do(ctx, http.MethodGet, "/v1/reports/"+url.PathEscape(id), nil, nil, "", &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Insert creates a report. The server attributes it to the token's user.
func (c *Client) Insert(ctx context.Context, row report.NewRow) (*report.Report, error) {
	var rep report.Report
	if err := c.doJSON(ctx, http.MethodPost, "/v1/reports", row, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Update patches a report.
func (c *Client) Update(ctx context.Context, id string, patch report.Patch) (*report.Report, error) {
	var rep report.Report
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/reports/"+url.PathEscape(id), patch, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Put uploads evidence and returns its reference.
func (c *Client) Put(ctx context.Context, kind evidence.Kind, contentType string, r io.Reader) (evidence.Ref, error) {
	var out struct {
		Ref evidence.Ref `json:"ref"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/evidence/"+url.PathEscape(string(kind)), nil, r, contentType, &out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

// SaveProfile updates the caller's profile and returns the stored user.
func (c *Client) SaveProfile(ctx context.Context, fullName, email string, phone *string) (*user.User, error) {
	body := map[string]any{"full_name": fullName, "email": email}
	if phone != nil {
		body["phone"] = *phone
	}
	var u user.User
	if err := c.doJSON(ctx, http.MethodPut, "/v1/users/me", body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, method, path, nil, bytes.NewReader(data), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body io.Reader, contentType string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError rebuilds the domain error the server mapped to JSON.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr transport.APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return fmt.Errorf("remote api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return apiErrorToDomain(&apiErr)
}

func apiErrorToDomain(apiErr *transport.APIError) error {
	switch apiErr.Code {
	case transport.CodeValidation:
		if len(apiErr.Fields) > 0 {
			return &report.ValidationError{Fields: apiErr.Fields}
		}
		return fmt.Errorf("%w: %s", report.ErrValidation, apiErr.Message)
	case transport.CodeIllegalTransition:
		return &report.IllegalTransitionError{From: apiErr.From, To: apiErr.To}
	case transport.CodeConflict:
		return report.ErrConflict
	case transport.CodeNotFound:
		return report.ErrNotFound
	case transport.CodeForbidden:
		return report.ErrForbidden
	case transport.CodeUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case transport.CodeTooLarge:
		return fmt.Errorf("%w: %s", evidence.ErrTooLarge, apiErr.Message)
	case transport.CodeUnsupportedType:
		return fmt.Errorf("%w: %s", evidence.ErrUnsupportedType, apiErr.Message)
	case transport.CodeSubscriptionLost:
		return fmt.Errorf("%w: %s", report.ErrSubscriptionLost, apiErr.Message)
	default:
		return apiErr
	}
}
