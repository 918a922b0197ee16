package models

import (
	"fmt"
	"time"
)

// Room statuses.
const (
	StatusWaiting = "WAITING"
	StatusActive  = "ACTIVE"
	StatusEnded   = "ENDED"
)

// Participant roles.
const (
	RoleDoctor  = "DOCTOR"
	RolePatient = "PATIENT"
)

// CreateRoomRequest is the payload for creating a room ahead of the
// first join.
type CreateRoomRequest struct {
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
}

// Room represents the lifecycle record of a two-party consultation call.
type Room struct {
	ID              string     `json:"id"`
	AppointmentID   string     `json:"appointmentId"`
	DoctorID        string     `json:"doctorId"`
	PatientID       string     `json:"patientId"`
	Status          string     `json:"status"`
	DoctorJoinedAt  *time.Time `json:"doctorJoinedAt,omitempty"`
	PatientJoinedAt *time.Time `json:"patientJoinedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (r Room) String() string {
	return fmt.Sprintf(
		"Room(id=%s, appointmentId=%s, status=%s, doctorJoined=%v, patientJoined=%v)",
		r.ID,
		r.AppointmentID,
		r.Status,
		r.DoctorJoinedAt != nil,
		r.PatientJoinedAt != nil,
	)
}

// BothJoined checks if both designated participants have joined the room.
func (r Room) BothJoined() bool {
	return r.DoctorJoinedAt != nil && r.PatientJoinedAt != nil
}

// IsParticipant checks if the given user is one of the two designated participants.
func (r Room) IsParticipant(userID string) bool {
	return userID == r.DoctorID || userID == r.PatientID
}

// RoleOf returns the role of the given user in the room.
func (r Room) RoleOf(userID string) (string, bool) {
	switch userID {
	case r.DoctorID:
		return RoleDoctor, true
	case r.PatientID:
		return RolePatient, true
	default:
		return "", false
	}
}

// ConnectedAt returns the instant from which both parties were present,
// which is the start of the billable call duration.
func (r Room) ConnectedAt() (time.Time, bool) {
	if !r.BothJoined() {
		return time.Time{}, false
	}

	latest := *r.DoctorJoinedAt
	if r.PatientJoinedAt.After(latest) {
		latest = *r.PatientJoinedAt
	}

	return latest, true
}
