package contracts

import "time"

// BookingDeleted is published by calendar-api when a booking is removed with
// notification requested, and delivered to the webhook by notifier.
type BookingDeleted struct {
	NotificationID   string     `json:"notification_id"`
	BookingID        string     `json:"booking_id"`
	Title            string     `json:"title"`
	TeamMember       string     `json:"team_member"`
	CustomerName     string     `json:"customer_name"`
	CustomerEmail    string     `json:"customer_email"`
	PhoneNumber      string     `json:"phone_number"`
	BookingTime      *time.Time `json:"booking_time,omitempty"`
	DurationMinutes  int        `json:"duration"`
	MeetingLink      string     `json:"meeting_link,omitempty"`
	SendNotification bool       `json:"send_notification"`
	ActorName        string     `json:"actor_name"`
	DeletedAt        time.Time  `json:"deleted_at"`
	ShardID          int        `json:"shard_id"`
}
