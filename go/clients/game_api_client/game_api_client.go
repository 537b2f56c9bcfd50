package game_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/numguess/go/clients"
)

// RejectedError is returned when the server refuses a user action, either with a
// 4xx status or with a 2xx body that reports failure.
type RejectedError struct {
	Endpoint string
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Endpoint, e.Message)
}

type GameApiClient struct {
	*clients.BaseClient
}

func NewGameApiClient(baseURL string) *GameApiClient {
	return NewGameApiClientWithHTTP(baseURL, nil)
}

func NewGameApiClientWithHTTP(baseURL string, httpClient *http.Client) *GameApiClient {
	client := &GameApiClient{
		BaseClient: clients.NewBaseClientWithHTTP(baseURL, httpClient),
	}

	client.SetHeader(ClientNameHeader, ClientName)

	return client
}

func (c *GameApiClient) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	var resp JoinResponse
	if err := c.PostJSON(ctx, JoinEndpoint, req, &resp, nil); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", asRejected(JoinEndpoint, err))
	}
	if resp.RoomID == "" || resp.PlayerID == "" {
		return nil, fmt.Errorf("failed to join room: %w", &clients.DecodeError{Err: errors.New("missing roomId or playerId"), Raw: fmt.Sprintf("%+v", resp)})
	}
	return &resp, nil
}

func (c *GameApiClient) Status(ctx context.Context, roomID, playerID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.GetJSON(ctx, StatusEndpoint+sessionQuery(roomID, playerID), &resp); err != nil {
		return nil, fmt.Errorf("failed to get room status: %w", err)
	}
	if resp.Room.GameState == "" {
		return nil, fmt.Errorf("failed to get room status: %w", &clients.DecodeError{Err: errors.New("missing room.gameState")})
	}
	return &resp, nil
}

func (c *GameApiClient) QuickStatus(ctx context.Context, roomID, playerID string) (*QuickStatusResponse, error) {
	var resp QuickStatusResponse
	if err := c.GetJSON(ctx, QuickStatusEndpoint+sessionQuery(roomID, playerID), &resp); err != nil {
		return nil, fmt.Errorf("failed to get quick status: %w", err)
	}
	if resp.Room.GameState == "" {
		return nil, fmt.Errorf("failed to get quick status: %w", &clients.DecodeError{Err: errors.New("missing room.gameState")})
	}
	return &resp, nil
}

func (c *GameApiClient) SetSecret(ctx context.Context, req SetSecretRequest) (*ActionResponse, error) {
	return c.postAction(ctx, SetSecretEndpoint, req, req.ClientActionID)
}

func (c *GameApiClient) SelectDigits(ctx context.Context, req SelectDigitsRequest) (*ActionResponse, error) {
	return c.postAction(ctx, SelectDigitsEndpoint, req, req.ClientActionID)
}

func (c *GameApiClient) Guess(ctx context.Context, req GuessRequest) (*GuessResponse, error) {
	var resp GuessResponse
	if err := c.PostJSON(ctx, GuessEndpoint, req, &resp, idempotencyHeaders(req.ClientActionID)); err != nil {
		return nil, fmt.Errorf("failed to submit guess: %w", asRejected(GuessEndpoint, err))
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("failed to submit guess: %w", &RejectedError{Endpoint: GuessEndpoint, Message: resp.Error})
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("failed to submit guess: %w", &clients.DecodeError{Err: errors.New("missing result")})
	}
	return &resp, nil
}

func (c *GameApiClient) History(ctx context.Context, roomID string) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.GetJSON(ctx, HistoryEndpoint+"?roomId="+url.QueryEscape(roomID), &resp); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return &resp, nil
}

func (c *GameApiClient) SkipTurn(ctx context.Context, roomID, playerID, clientActionID string) (*SkipTurnResponse, error) {
	var resp SkipTurnResponse
	req := struct {
		sessionRequest
		ClientActionID string `json:"clientActionId,omitempty"`
	}{sessionRequest{RoomID: roomID, PlayerID: playerID}, clientActionID}
	if err := c.PostJSON(ctx, SkipTurnEndpoint, req, &resp, idempotencyHeaders(clientActionID)); err != nil {
		return nil, fmt.Errorf("failed to skip turn: %w", asRejected(SkipTurnEndpoint, err))
	}
	return &resp, nil
}

// Leave notifies the server; the response body is ignored.
func (c *GameApiClient) Leave(ctx context.Context, roomID, playerID string) error {
	if err := c.PostJSON(ctx, LeaveEndpoint, sessionRequest{RoomID: roomID, PlayerID: playerID}, nil, nil); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	return nil
}

// Health hits the liveness probe. Any 2xx counts as alive.
func (c *GameApiClient) Health(ctx context.Context) error {
	if _, err := c.Get(ctx, HealthEndpoint); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (c *GameApiClient) postAction(ctx context.Context, endpoint string, req interface{}, clientActionID string) (*ActionResponse, error) {
	var resp ActionResponse
	if err := c.PostJSON(ctx, endpoint, req, &resp, idempotencyHeaders(clientActionID)); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", endpoint, asRejected(endpoint, err))
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "request was not accepted"
		}
		return nil, fmt.Errorf("failed to call %s: %w", endpoint, &RejectedError{Endpoint: endpoint, Message: msg})
	}
	return &resp, nil
}

func sessionQuery(roomID, playerID string) string {
	q := url.Values{}
	q.Set("roomId", roomID)
	if playerID != "" {
		q.Set("playerId", playerID)
	}
	return "?" + q.Encode()
}

func idempotencyHeaders(clientActionID string) map[string]string {
	if clientActionID == "" {
		return nil
	}
	return map[string]string{IdempotencyKeyHeader: clientActionID}
}

// asRejected turns a 4xx status into a RejectedError carrying the server's message.
// Other errors are returned unchanged.
func asRejected(endpoint string, err error) error {
	var statusErr *clients.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode < 400 || statusErr.StatusCode >= 500 {
		return err
	}
	return &RejectedError{Endpoint: endpoint, Message: MessageFromBody(statusErr.Body)}
}

// MessageFromBody extracts a user-facing message from an error response body.
func MessageFromBody(body string) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if body == "" {
		return "request was rejected"
	}
	return body
}
