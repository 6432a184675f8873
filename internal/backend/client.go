// Package backend is the HTTP client for the remote game service that owns
// questions, games, players, rankings, and stats. The console never persists
// any of that itself.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"buzzmaster-console/internal/domain"
)

// Client talks to the game backend's REST API.
type Client struct {
	baseURL       string
	http          *http.Client
	retryAttempts int
	retryDelay    time.Duration
}

// Option tweaks the client.
type Option func(*Client)

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetry configures the status-probe retry policy.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// New builds a client for the backend at baseURL (without the /api suffix).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL + "/api",
		http:          &http.Client{Timeout: timeout},
		retryAttempts: 3,
		retryDelay:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status probes the backend, retrying transient failures so the console can
// wait out a server that is still booting.
func (c *Client) Status(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		lastErr = c.do(ctx, http.MethodGet, "/status", nil, nil)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("backend status: %w", lastErr)
}

// Questions lists the whole question bank (used by the game-setup flow).
func (c *Client) Questions(ctx context.Context) ([]domain.Question, error) {
	var questions []domain.Question
	if err := c.do(ctx, http.MethodGet, "/questions", nil, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// CreateGame registers a new game from the selected questions.
func (c *Client) CreateGame(ctx context.Context, name string, questionIDs []int, settings domain.GameSettings) (domain.Game, error) {
	req := struct {
		Name        string              `json:"name"`
		QuestionIDs []int               `json:"questionIds"`
		Settings    domain.GameSettings `json:"settings"`
	}{Name: name, QuestionIDs: questionIDs, Settings: settings}

	var game domain.Game
	if err := c.do(ctx, http.MethodPost, "/games", req, &game); err != nil {
		return domain.Game{}, err
	}
	return game, nil
}

// Game fetches one game's details.
func (c *Client) Game(ctx context.Context, gameID string) (domain.Game, error) {
	var game domain.Game
	if err := c.do(ctx, http.MethodGet, "/games/"+gameID, nil, &game); err != nil {
		return domain.Game{}, err
	}
	return game, nil
}

// RegisterPlayer enrolls a buzzer into a game.
func (c *Client) RegisterPlayer(ctx context.Context, gameID, buzzerID, name string) error {
	req := struct {
		BuzzerID   string `json:"buzzerID"`
		PlayerName string `json:"playerName"`
	}{BuzzerID: buzzerID, PlayerName: name}
	return c.do(ctx, http.MethodPost, "/games/"+gameID+"/players", req, nil)
}

// StartGame flips the game to started server-side.
func (c *Client) StartGame(ctx context.Context, gameID string) error {
	return c.do(ctx, http.MethodPost, "/games/"+gameID+"/start", struct{}{}, nil)
}

// CurrentQuestion returns the question the backend points at right now.
func (c *Client) CurrentQuestion(ctx context.Context, gameID string) (domain.Question, error) {
	var question domain.Question
	if err := c.do(ctx, http.MethodGet, "/games/"+gameID+"/current-question", nil, &question); err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

// NextQuestion advances the backend's question pointer; ended reports the
// sequence is exhausted.
func (c *Client) NextQuestion(ctx context.Context, gameID string) (bool, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/games/"+gameID+"/next-question", struct{}{}, &resp); err != nil {
		return false, err
	}
	return resp.Status == "ended", nil
}

// Ranking fetches the server-computed leaderboard.
func (c *Client) Ranking(ctx context.Context, gameID string) ([]domain.RankingEntry, error) {
	var ranking []domain.RankingEntry
	if err := c.do(ctx, http.MethodGet, "/games/"+gameID+"/ranking", nil, &ranking); err != nil {
		return nil, err
	}
	return ranking, nil
}

// Stats fetches per-player aggregates.
func (c *Client) Stats(ctx context.Context, gameID string) ([]domain.PlayerStats, error) {
	var stats []domain.PlayerStats
	if err := c.do(ctx, http.MethodGet, "/games/"+gameID+"/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError maps HTTP failures to user-facing messages, preferring the
// backend's own {"error": ...} body when present.
func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return errors.New(body.Error)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.New("resource not found")
	case http.StatusInternalServerError:
		return errors.New("internal server error")
	default:
		return fmt.Errorf("backend rejected request: %s", resp.Status)
	}
}
