package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CzarSimon/httputil/client/rpc"
	"github.com/telecare/consultation/internal/models"
)

// Lifecycle is the room lifecycle store: join/end/rejoin transitions of the
// room record for an appointment. All operations are idempotent.
type Lifecycle interface {
	Join(ctx context.Context, appointmentID, userID, role string) (models.Room, error)
	End(ctx context.Context, appointmentID, userID, recordingID string) (models.EndResult, error)
	Rejoin(ctx context.Context, roomID, userID string) (models.Room, error)
}

// NewHTTPLifecycle creates a Lifecycle talking to the consultation service.
func NewHTTPLifecycle(baseURL, token string) Lifecycle {
	return &httpLifecycle{
		baseURL: baseURL,
		token:   token,
		client:  rpc.NewClient(10 * time.Second),
	}
}

type httpLifecycle struct {
	baseURL string
	token   string
	client  rpc.Client
}

func (l *httpLifecycle) Join(ctx context.Context, appointmentID, userID, role string) (models.Room, error) {
	route := fmt.Sprintf("%s/v1/appointments/%s/join", l.baseURL, appointmentID)
	body := models.JoinRequest{UserID: userID, Role: role}

	var room models.Room
	err := l.post(ctx, route, body, &room)
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to join room %w", err)
	}

	return room, nil
}

func (l *httpLifecycle) End(ctx context.Context, appointmentID, userID, recordingID string) (models.EndResult, error) {
	route := fmt.Sprintf("%s/v1/appointments/%s/end", l.baseURL, appointmentID)
	body := models.EndRequest{UserID: userID, RecordingID: recordingID}

	var result models.EndResult
	err := l.post(ctx, route, body, &result)
	if err != nil {
		return models.EndResult{}, fmt.Errorf("failed to end room %w", err)
	}

	return result, nil
}

func (l *httpLifecycle) Rejoin(ctx context.Context, roomID, userID string) (models.Room, error) {
	route := fmt.Sprintf("%s/v1/rooms/%s/rejoin", l.baseURL, roomID)
	body := models.RejoinRequest{UserID: userID}

	var room models.Room
	err := l.post(ctx, route, body, &room)
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to rejoin room %w", err)
	}

	return room, nil
}

func (l *httpLifecycle) post(ctx context.Context, route string, body, response interface{}) error {
	req, err := l.client.CreateRequest(http.MethodPost, route, body)
	if err != nil {
		return fmt.Errorf("failed to create request %w", err)
	}

	req = req.WithContext(ctx)
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	res, err := l.client.Do(req)
	if err != nil {
		return err
	}

	err = rpc.DecodeJSON(res, response)
	if err != nil {
		return fmt.Errorf("failed to decode response %w", err)
	}

	return nil
}
