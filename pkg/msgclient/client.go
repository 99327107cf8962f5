package msgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dmchat: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the REST API. It is safe for concurrent use once the token
// is set.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: normalizeBaseURL(baseURL),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) Token() string   { return c.token }

func (c *Client) SetToken(token string) { c.token = strings.TrimSpace(token) }

func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResult, error) {
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", req, &res); err != nil {
		return AuthResult{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

// Login accepts an email, username or mobile number as identifier.
func (c *Client) Login(ctx context.Context, identifier, password string) (AuthResult, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &res); err != nil {
		return AuthResult{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &u)
	return u, err
}

func (c *Client) UpdateProfile(ctx context.Context, patch ProfilePatch) (User, error) {
	var u User
	err := c.do(ctx, http.MethodPut, "/api/users/profile", patch, &u)
	return u, err
}

func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/users/profile", nil, nil)
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	err := c.do(ctx, http.MethodGet, "/api/chat/search?q="+url.QueryEscape(query), nil, &users)
	return users, err
}

// Users lists the other active accounts. A zero limit takes the server default.
func (c *Client) Users(ctx context.Context, limit int) ([]User, error) {
	path := "/api/users"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var users []User
	err := c.do(ctx, http.MethodGet, path, nil, &users)
	return users, err
}

func (c *Client) User(ctx context.Context, id string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &u)
	return u, err
}

func (c *Client) Send(ctx context.Context, peerID string, req SendRequest) (Message, error) {
	var m Message
	err := c.do(ctx, http.MethodPost, "/api/chat/messages/"+url.PathEscape(peerID), req, &m)
	return m, err
}

// History returns messages with the peer after the given seq cursor; zero
// values use the server defaults.
func (c *Client) History(ctx context.Context, peerID string, after int64, limit int) (HistoryPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/chat/messages/" + url.PathEscape(peerID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page HistoryPage
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var list []Conversation
	err := c.do(ctx, http.MethodGet, "/api/chat/chats", nil, &list)
	return list, err
}

// Upload stores a file and returns the attachment descriptor to reference in
// a later Send.
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	if contentType != "" {
		hdr["Content-Type"] = []string{contentType}
	}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return Attachment{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return Attachment{}, err
	}
	if err := mw.Close(); err != nil {
		return Attachment{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/upload", &buf)
	if err != nil {
		return Attachment{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var att Attachment
	err = c.send(req, &att)
	return att, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, joinURL(c.baseURL, path), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var body struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func joinURL(base, path string) string {
	return normalizeBaseURL(base) + path
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}
