// internal/app/features/socket/events.go
package socket

// Client events.
const (
	EventPresenceWhois   = "presence:whois"
	EventPresenceHydrate = "presence:hydrate"
	EventHubJoin         = "hub:join"
	EventHubLeave        = "hub:leave"
	EventHubPresence     = "hub:presence:whois"
)

// Failure messages returned in acks.
const (
	msgInvalidHubID    = "Invalid hub id"
	msgForbidden       = "Forbidden"
	msgLookupFailed    = "Hub lookup failed, try again"
	msgUserIDsNotAList = "userIds must be an array"
	msgTooManyUserIDs  = "Too many userIds"
	msgUnknownEvent    = "unknown event"
	msgInternalError   = "Internal error"
)

// ackResponse is the body of every acknowledgement.
type ackResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(data any) ackResponse { return ackResponse{Success: true, Data: data} }

func failure(msg string) ackResponse { return ackResponse{Success: false, Message: msg} }

type hubPayload struct {
	HubID string `json:"hubId"`
}

type hydrateData struct {
	Online map[string]bool `json:"online"`
}

type hubMember struct {
	UserID string `json:"userId"`
}
