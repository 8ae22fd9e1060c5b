package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
)

// Client provides REST API access to the chat backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL is the backend origin, e.g. "https://chat.example.com".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Authentication endpoints

// Signup creates a new user account and returns a bearer token.
func (c *Client) Signup(ctx context.Context, username, password string) (*TokenResponse, error) {
	var resp TokenResponse
	req := CredentialsRequest{Username: username, Password: password}
	if err := c.post(ctx, "/signup", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates with existing credentials and returns a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	var resp TokenResponse
	req := CredentialsRequest{Username: username, Password: password}
	if err := c.post(ctx, "/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Room management endpoints

// Rooms lists accessible rooms keyed by room ID.
func (c *Client) Rooms(ctx context.Context) (map[string]RoomInfo, error) {
	var resp map[string]RoomInfo
	if err := c.get(ctx, "/rooms", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateRoom creates a new room with the given display name.
func (c *Client) CreateRoom(ctx context.Context, name string) (*CreateRoomResponse, error) {
	var resp CreateRoomResponse
	if err := c.post(ctx, "/rooms/create", CreateRoomRequest{Name: name}, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRoom removes a room and its history.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/rooms/"+url.PathEscape(roomID), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	return c.do(req, nil)
}

// History and image endpoints

// RoomMessages retrieves the message history for a room as raw records, in
// server order, ready to be fed through the normalizer.
//
// Legacy backends double-encode the response (a JSON string containing the
// JSON array); both encodings are accepted.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/rooms/"+url.PathEscape(roomID)+"/messages", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	body, err := c.doRaw(req)
	if err != nil {
		return nil, err
	}
	return decodeHistory(body)
}

func decodeHistory(body []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}
	var nested string
	if err := json.Unmarshal(body, &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &records); err == nil {
			return records, nil
		}
	}
	return nil, fmt.Errorf("unmarshal history: not a JSON array: %.64q", string(body))
}

// FetchImage retrieves raw image bytes by server-side name.
func (c *Client) FetchImage(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/images/"+url.PathEscape(name), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	return c.doRaw(req)
}

// UploadImage posts an image with a caption to a room as multipart form
// data. The server echoes the resulting image event over the room socket.
func (c *Client) UploadImage(ctx context.Context, roomID, caption, filename string, image io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("chatImage", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, image); err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	if err := mw.WriteField("content", caption); err != nil {
		return fmt.Errorf("write caption: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rooms/"+url.PathEscape(roomID)+"/image", &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)
	return c.do(req, nil)
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		c.authorize(req)
	}
	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if requireAuth {
		c.authorize(req)
	}
	return c.do(req, dest)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request, dest any) error {
	body, err := c.doRaw(req)
	if err != nil {
		return err
	}
	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}
	return body, nil
}
