package models

import (
	"fmt"
	"time"
)

// Signaling message types.
const (
	TypeOffer        = "OFFER"
	TypeAnswer       = "ANSWER"
	TypeICECandidate = "ICE_CANDIDATE"
)

// SignalingMessage is a single message relayed between the two room
// participants during call negotiation. Immutable once written, deleted
// in bulk when the room ends or is reset.
type SignalingMessage struct {
	ID         string    `json:"id,omitempty"`
	RoomID     string    `json:"roomId,omitempty"`
	SenderID   string    `json:"senderId,omitempty"`
	Type       string    `json:"type,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	InsertedAt time.Time `json:"insertedAt,omitempty"`
}

func (m SignalingMessage) String() string {
	return fmt.Sprintf(
		"SignalingMessage(id=%s, roomId=%s, senderId=%s, type=%s)",
		m.ID,
		m.RoomID,
		m.SenderID,
		m.Type,
	)
}

// IsDescription checks if the message carries a session description
// rather than an ICE candidate.
func (m SignalingMessage) IsDescription() bool {
	return m.Type == TypeOffer || m.Type == TypeAnswer
}
