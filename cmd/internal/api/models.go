package api

import (
	"time"

	"acteezer/cmd/internal/activity"
	"acteezer/cmd/internal/eligibility"
	"acteezer/cmd/internal/notify"
)

type joinRequest struct {
	Message string `json:"message" validate:"max=1000"`
}

type decisionRequest struct {
	Response string `json:"response" validate:"max=1000"`
}

type eligibilityResponse struct {
	Allowed          bool     `json:"allowed"`
	Code             string   `json:"code,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	MissingLanguages []string `json:"missing_languages,omitempty"`
}

type participantResponse struct {
	ID                string    `json:"id"`
	ActivityID        string    `json:"activity_id"`
	UserID            string    `json:"user_id"`
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	OrganizerResponse string    `json:"organizer_response"`
	RequestedAt       time.Time `json:"requested_at"`
	StatusUpdatedAt   time.Time `json:"status_updated_at"`
}

type participantEnvelope struct {
	Participant participantResponse `json:"participant"`
}

type participantsResponse struct {
	Participants []participantResponse `json:"participants"`
}

type notificationsResponse struct {
	Notifications []notify.Record `json:"notifications"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

// streamFrame is one websocket message on the notification stream.
type streamFrame struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"session_id,omitempty"`
	Notification *notify.Record `json:"notification,omitempty"`
}

func toEligibilityResponse(d eligibility.Decision) eligibilityResponse {
	return eligibilityResponse{
		Allowed:          d.Allowed,
		Code:             string(d.Code),
		Reason:           d.Reason,
		MissingLanguages: d.Missing,
	}
}

func toParticipantResponse(p activity.Participant) participantResponse {
	return participantResponse{
		ID:                p.ID,
		ActivityID:        p.ActivityID,
		UserID:            p.UserID,
		Status:            string(p.Status),
		Message:           p.RequestedMessage,
		OrganizerResponse: p.OrganizerResponse,
		RequestedAt:       p.RequestedAt,
		StatusUpdatedAt:   p.StatusUpdatedAt,
	}
}
