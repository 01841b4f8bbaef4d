package models

import "time"

// GroupMessage represents a message posted to a room.
type GroupMessage struct {
	ID     int64     `db:"id" json:"id"`
	Sender string    `db:"sender" json:"sender"`
	Room   string    `db:"room" json:"room"`
	Body   string    `db:"body" json:"body"`
	SentAt time.Time `db:"sent_at" json:"sent_at"`
}

// DirectMessage represents a message between exactly two users.
type DirectMessage struct {
	ID        int64     `db:"id" json:"id"`
	Sender    string    `db:"sender" json:"sender"`
	Recipient string    `db:"recipient" json:"recipient"`
	Body      string    `db:"body" json:"body"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m DirectMessage) Involves(a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}
