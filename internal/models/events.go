package models

const (
	EventReceiveMessage        = "ReceiveMessage"
	EventUpdateUserStatus      = "UpdateUserStatus"
	EventSyncCurrentUserStatus = "SyncCurrentUserStatus"
	EventStartConversation     = "StartConversation"
	EventCompletion            = "Completion"
	EventError                 = "Error"
)

// Event is the envelope written to a connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func ReceiveMessage(message Message) Event {
	return Event{Type: EventReceiveMessage, Data: message}
}

func UpdateUserStatus(status UserStatus) Event {
	return Event{Type: EventUpdateUserStatus, Data: status}
}

func SyncCurrentUserStatus(status Status) Event {
	return Event{Type: EventSyncCurrentUserStatus, Data: map[string]Status{"status": status}}
}

// StartConversation carries a nil user when the lookup found nobody.
func StartConversation(user *User) Event {
	return Event{Type: EventStartConversation, Data: user}
}

func Completion(invocationID string) Event {
	return Event{Type: EventCompletion, Data: map[string]string{"invocationId": invocationID}}
}

func Error(invocationID string, err error) Event {
	return Event{Type: EventError, Data: map[string]string{"invocationId": invocationID, "error": err.Error()}}
}
