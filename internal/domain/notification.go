package domain

import "time"

// NotificationKind is the user-facing category of a notification.
type NotificationKind string

const (
	NotifyBid        NotificationKind = "bid"
	NotifyOutbid     NotificationKind = "outbid"
	NotifyWon        NotificationKind = "won"
	NotifyEndingSoon NotificationKind = "ending_soon"
	NotifyEnded      NotificationKind = "ended"
	NotifyBuyNow     NotificationKind = "buy_now"
	NotifyShipped    NotificationKind = "shipped"
	NotifyPayment    NotificationKind = "payment"
)

// Notification is a stored message for a user, created in the same
// transaction as the state change it describes.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	AuctionID string           `json:"auction_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationFromEvent builds the stored notification for e, if any.
func NotificationFromEvent(e Event) (Notification, bool) {
	kind, ok := e.Kind.NotificationKind()
	if !ok {
		return Notification{}, false
	}
	return Notification{
		ID:        e.ID,
		UserID:    e.UserID,
		Kind:      kind,
		Title:     e.Title,
		Message:   e.Message,
		AuctionID: e.AuctionID,
		CreatedAt: e.OccurredAt,
	}, true
}
