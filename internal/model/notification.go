package model

// DefaultAdminRecipient receives trip notifications when none is configured.
const DefaultAdminRecipient = "svs@svs.io"

// AdminNotification is the message sent to the administrator when a trip is saved.
type AdminNotification struct {
	Type      TripEvent `json:"type"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Owner     User      `json:"owner"`
	Trip      Trip      `json:"trip"`
}

func NewAdminNotification(kind TripEvent, trip Trip, owner User, recipient string) AdminNotification {
	if recipient == "" {
		recipient = DefaultAdminRecipient
	}
	who := owner.Email
	if who == "" {
		who = "unknown user"
	}
	return AdminNotification{
		Type:      kind,
		Recipient: recipient,
		Subject:   "New trip by " + who,
		Owner:     owner,
		Trip:      trip,
	}
}
