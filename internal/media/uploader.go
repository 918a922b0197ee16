package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CzarSimon/httputil/client/rpc"
	"github.com/telecare/consultation/internal/models"
)

// Uploader pushes a recorded clip to durable storage: it requests an
// upload destination from the relay service and PUTs the raw blob there.
type Uploader struct {
	BaseURL    string
	RPCClient  rpc.Client
	HTTPClient *http.Client
	Token      string
}

// NewUploader creates an uploader against the given service base URL.
func NewUploader(baseURL, token string) *Uploader {
	return &Uploader{
		BaseURL:    baseURL,
		RPCClient:  rpc.NewClient(30 * time.Second),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Token:      token,
	}
}

// Upload stores the clip and returns the recording id to reference when
// finalizing the room.
func (u *Uploader) Upload(ctx context.Context, roomID, userID string, clip *Clip) (string, error) {
	destination, err := u.requestDestination(ctx, roomID, userID)
	if err != nil {
		return "", err
	}

	err = u.putBlob(ctx, destination.URL, clip)
	if err != nil {
		return "", err
	}

	return destination.RecordingID, nil
}

func (u *Uploader) requestDestination(ctx context.Context, roomID, userID string) (models.UploadDestination, error) {
	route := fmt.Sprintf("%s/v1/rooms/%s/recordings", u.BaseURL, roomID)
	body := map[string]string{"userId": userID}

	req, err := u.RPCClient.CreateRequest(http.MethodPost, route, body)
	if err != nil {
		return models.UploadDestination{}, fmt.Errorf("failed to create upload destination request %w", err)
	}
	req = req.WithContext(ctx)
	u.authorize(req)

	res, err := u.RPCClient.Do(req)
	if err != nil {
		return models.UploadDestination{}, fmt.Errorf("failed to request upload destination %w", err)
	}

	var destination models.UploadDestination
	err = rpc.DecodeJSON(res, &destination)
	if err != nil {
		return models.UploadDestination{}, fmt.Errorf("failed to decode upload destination %w", err)
	}

	return destination, nil
}

func (u *Uploader) putBlob(ctx context.Context, url string, clip *Clip) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(clip.Data))
	if err != nil {
		return fmt.Errorf("failed to create upload request %w", err)
	}
	req.Header.Set("Content-Type", clip.ContentType)
	u.authorize(req)

	res, err := u.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload recording %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("recording upload failed with status %d", res.StatusCode)
	}

	return nil
}

func (u *Uploader) authorize(req *http.Request) {
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}
}
