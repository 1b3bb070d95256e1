// Package client is a Go API client for the chat server and the session
// state a front end keeps on top of it.
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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/service"
)

// ErrNoToken is returned when re-authentication finds no stored token.
var ErrNoToken = errors.New("client: no stored access token")

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	apperr.Payload
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.StatusCode, e.Message)
}

// IsUnauthenticated reports whether err is a 401 from the server.
func IsUnauthenticated(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// TokenStorage keeps the access token between sessions.
type TokenStorage interface {
	Token() (string, error)
	SetToken(token string) error
	Clear() error
}

// MemoryStorage is a process-local TokenStorage.
type MemoryStorage struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryStorage) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryStorage) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryStorage) Clear() error {
	return m.SetToken("")
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	storage    TokenStorage
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithStorage(s TokenStorage) Option {
	return func(c *Client) { c.storage = s }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		storage:    &MemoryStorage{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.storage.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Payload); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodPost, "/users", models.UserInput{Email: email, Password: password}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates with the local strategy and stores the token.
func (c *Client) Login(ctx context.Context, email, password string) (*service.AuthResult, error) {
	return c.authenticate(ctx, service.Credentials{Strategy: service.StrategyLocal, Email: email, Password: password})
}

// Reauthenticate exchanges the stored token for a fresh one. A rejected
// token is removed from storage; a failure to remove it is joined into the
// returned error.
func (c *Client) Reauthenticate(ctx context.Context) (*service.AuthResult, error) {
	token, err := c.storage.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return nil, ErrNoToken
	}
	res, err := c.authenticate(ctx, service.Credentials{Strategy: service.StrategyJWT, AccessToken: token})
	if err != nil && IsUnauthenticated(err) {
		if clearErr := c.storage.Clear(); clearErr != nil {
			err = errors.Join(err, clearErr)
		}
	}
	return res, err
}

func (c *Client) authenticate(ctx context.Context, creds service.Credentials) (*service.AuthResult, error) {
	var res service.AuthResult
	if err := c.do(ctx, http.MethodPost, "/authentication", creds, &res); err != nil {
		return nil, err
	}
	if err := c.storage.SetToken(res.AccessToken); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return &res, nil
}

// Logout tells the server and forgets the token, even when the server
// call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/authentication", nil, nil)
	if clearErr := c.storage.Clear(); clearErr != nil {
		return errors.Join(err, clearErr)
	}
	return err
}

// AccessToken returns the stored token.
func (c *Client) AccessToken() (string, error) {
	return c.storage.Token()
}

func (c *Client) User(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Users(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListOptions map to $limit, $skip and $sort[createdAt].
type ListOptions struct {
	Limit  int
	Skip   int
	Newest bool
}

func (o ListOptions) encode() string {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("$limit", strconv.Itoa(o.Limit))
	}
	if o.Skip > 0 {
		v.Set("$skip", strconv.Itoa(o.Skip))
	}
	if o.Newest {
		v.Set("$sort[createdAt]", "-1")
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) Messages(ctx context.Context, opts ListOptions) ([]*models.Message, error) {
	var messages []*models.Message
	if err := c.do(ctx, http.MethodGet, "/messages"+opts.encode(), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) SendMessage(ctx context.Context, body string) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/messages", models.MessageInput{Body: body}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
