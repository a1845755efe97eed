package store

import "time"

// Gender is the contact gender enum used by the backend.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// Contact is a counterparty participating in chats.
type Contact struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Gender    Gender    `json:"gender"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Age       int       `json:"age"`
	WeightLbs float64   `json:"weight_lbs"`
	USState   string    `json:"us_state"`
	City      string    `json:"city"`
	Bio       string    `json:"bio"`
	AvatarID  string    `json:"avatar_id,omitempty"`
}

// DisplayName returns "First Last", falling back to the id.
func (c Contact) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.LastName != "":
		return c.LastName
	}
	return c.ID
}

// ChatMember references a contact that joined a chat.
type ChatMember struct {
	ContactID string    `json:"contact_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Chat is a conversation thread with its member roster.
type Chat struct {
	ID              string       `json:"id"`
	CreatedAt       time.Time    `json:"created_at"`
	LastMessageTime time.Time    `json:"last_message_time"`
	Members         []ChatMember `json:"members"`
}

func (c Chat) clone() Chat {
	if c.Members != nil {
		c.Members = append([]ChatMember(nil), c.Members...)
	}
	return c
}

// Message is a single chat message. ContactID is nil when the local user sent it.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	ContactID *string   `json:"contact_id"`
	Body      string    `json:"message"`
	ImageID   *string   `json:"image_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FromMe reports whether the local user sent the message.
func (m Message) FromMe() bool {
	return m.ContactID == nil
}
