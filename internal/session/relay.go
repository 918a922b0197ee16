package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CzarSimon/httputil/client/rpc"
	"github.com/telecare/consultation/internal/models"
)

// Relay is the signaling exchange between the two participants. The only
// guarantee it offers is that appended messages are eventually returned by
// Poll in insertion order, repeated polls may overlap.
type Relay interface {
	Publish(ctx context.Context, roomID string, req models.PublishSignalRequest) error
	Poll(ctx context.Context, roomID, excludeSenderID string) ([]models.SignalingMessage, error)
}

// NewHTTPRelay creates a Relay talking to the consultation service.
func NewHTTPRelay(baseURL, token string) Relay {
	return &httpRelay{
		baseURL: baseURL,
		token:   token,
		client:  rpc.NewClient(10 * time.Second),
	}
}

type httpRelay struct {
	baseURL string
	token   string
	client  rpc.Client
}

func (r *httpRelay) Publish(ctx context.Context, roomID string, req models.PublishSignalRequest) error {
	route := fmt.Sprintf("%s/v1/rooms/%s/signals", r.baseURL, roomID)
	httpReq, err := r.createRequest(ctx, http.MethodPost, route, req)
	if err != nil {
		return err
	}

	res, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to publish signal %w", err)
	}
	res.Body.Close()

	return nil
}

func (r *httpRelay) Poll(ctx context.Context, roomID, excludeSenderID string) ([]models.SignalingMessage, error) {
	route := fmt.Sprintf("%s/v1/rooms/%s/signals?exclude=%s", r.baseURL, roomID, excludeSenderID)
	httpReq, err := r.createRequest(ctx, http.MethodGet, route, nil)
	if err != nil {
		return nil, err
	}

	res, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to poll signals %w", err)
	}

	messages := make([]models.SignalingMessage, 0)
	err = rpc.DecodeJSON(res, &messages)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signals %w", err)
	}

	return messages, nil
}

func (r *httpRelay) createRequest(ctx context.Context, method, route string, body interface{}) (*http.Request, error) {
	req, err := r.client.CreateRequest(method, route, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request %w", err)
	}

	req = req.WithContext(ctx)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	return req, nil
}
