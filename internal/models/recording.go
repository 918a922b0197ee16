package models

import (
	"fmt"
	"time"

	"github.com/rtcheap/dto"
)

// Recording is the stored metadata of an uploaded call audio artifact.
type Recording struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (r Recording) String() string {
	return fmt.Sprintf(
		"Recording(id=%s, roomId=%s, contentType=%s, sizeBytes=%d)",
		r.ID,
		r.RoomID,
		r.ContentType,
		r.SizeBytes,
	)
}

// UploadDestination is the target for a raw audio blob upload.
type UploadDestination struct {
	RecordingID string `json:"recordingId"`
	URL         string `json:"url"`
}

// JoinRequest is the payload for joining a consultation room.
type JoinRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// PublishSignalRequest is the payload for appending a signaling message.
type PublishSignalRequest struct {
	SenderID string `json:"senderId"`
	Type     string `json:"type"`
	Payload  string `json:"payload"`
}

// EndRequest is the payload for ending a consultation room, optionally
// referencing an uploaded audio recording.
type EndRequest struct {
	UserID      string `json:"userId"`
	RecordingID string `json:"recordingId,omitempty"`
}

// RejoinRequest is the payload for resetting an ended room.
type RejoinRequest struct {
	UserID string `json:"userId"`
}

// EndResult is the outcome of ending a room.
type EndResult struct {
	DurationSeconds int64          `json:"durationSeconds"`
	SessionRef      *dto.Reference `json:"sessionRef,omitempty"`
}
