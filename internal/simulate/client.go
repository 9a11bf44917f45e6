package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/putmeon/internal/domain/model"
)

// APIError is a rejected request as reported by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the session API on behalf of one guest.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	User    model.User
}

// NewClient creates an anonymous client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends a JSON request and decodes a JSON response into out when given.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Healthy checks the metrics endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// SignIn authenticates as a guest with handle.
func (c *Client) SignIn(ctx context.Context, handle string) error {
	var res struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/guest", map[string]string{"handle": handle}, &res); err != nil {
		return err
	}
	c.token, c.User = res.Token, res.User
	return nil
}

// SignOut revokes the client's token.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/signout", nil, nil)
}

// Me returns the client's profile and stats.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/me", nil, &u)
	return u, err
}

// Submit queues a song.
func (c *Client) Submit(ctx context.Context, artist, title string) (model.Track, error) {
	var t model.Track
	err := c.do(ctx, http.MethodPost, "/queue", map[string]string{"artist": artist, "title": title}, &t)
	return t, err
}

// Queue lists queued songs, freshest first.
func (c *Client) Queue(ctx context.Context) ([]model.Track, error) {
	var ts []model.Track
	err := c.do(ctx, http.MethodGet, "/queue", nil, &ts)
	return ts, err
}

// Promote plays a queued song.
func (c *Client) Promote(ctx context.Context, id string) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodPost, "/host/promote/"+id, nil, &st)
	return st, err
}

// OpenGrading opens the grading window.
func (c *Client) OpenGrading(ctx context.Context) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodPost, "/host/grading/open", nil, &st)
	return st, err
}

// CloseGrading closes the grading window.
func (c *Client) CloseGrading(ctx context.Context) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodPost, "/host/grading/close", nil, &st)
	return st, err
}

// Clear stops playback.
func (c *Client) Clear(ctx context.Context) (model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, http.MethodPost, "/host/clear", nil, &st)
	return st, err
}

// Grade grades the playing track.
func (c *Client) Grade(ctx context.Context, trackID string, scores model.Scores) (model.Vote, model.Stats, error) {
	var res struct {
		Vote  model.Vote  `json:"vote"`
		Stats model.Stats `json:"stats"`
	}
	err := c.do(ctx, http.MethodPost, "/grades", map[string]any{"trackId": trackID, "scores": scores}, &res)
	return res.Vote, res.Stats, err
}

// Votes lists the grades of a track.
func (c *Client) Votes(ctx context.Context, trackID string) ([]model.Vote, error) {
	var vs []model.Vote
	err := c.do(ctx, http.MethodGet, "/tracks/"+trackID+"/votes", nil, &vs)
	return vs, err
}

// Leaderboard returns the best graded tracks.
func (c *Client) Leaderboard(ctx context.Context) ([]model.HistoryEntry, error) {
	var es []model.HistoryEntry
	err := c.do(ctx, http.MethodGet, "/leaderboard", nil, &es)
	return es, err
}

// Presence lists attendance records.
func (c *Client) Presence(ctx context.Context) ([]model.PresenceRecord, error) {
	var rs []model.PresenceRecord
	err := c.do(ctx, http.MethodGet, "/presence", nil, &rs)
	return rs, err
}

// Live is the client's websocket connection. It keeps the guest online
// until closed.
type Live struct {
	conn *websocket.Conn
}

// Connect opens the live connection.
func (c *Client) Connect(ctx context.Context) (*Live, error) {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws?token=" + c.token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return &Live{conn: conn}, nil
}

// Close signs the connection off cleanly.
func (l *Live) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return l.conn.Close()
}
