package types

import (
	"time"
)

// Token types carried in the "type" claim of every issued JWT
const (
	TokenTypeAccess        = "access"
	TokenTypeRefresh       = "refresh"
	TokenTypePasswordReset = "password_reset"
)

// Relative sender labels used when listing a conversation's history
const (
	SenderMe   = "me"
	SenderThey = "they"
)

// MaxContentLength bounds a single message body (64KB)
const MaxContentLength = 65536

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Email        string    `json:"email" gorm:"type:varchar(320);uniqueIndex;not null"`
	Name         *string   `json:"name,omitempty" gorm:"type:varchar(200)"`
	PasswordHash string    `json:"-" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// Conversation is a chat room. Its id is generated when it is created and
// never reused. Members are loaded only when explicitly preloaded.
type Conversation struct {
	ID        string               `json:"id" gorm:"type:varchar(36);primaryKey"`
	CreatedBy string               `json:"created_by" gorm:"type:varchar(36);index"`
	Members   []ConversationMember `json:"members,omitempty" gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time            `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time            `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Conversation) TableName() string { return "conversations" }

// UserIDs flattens the member rows into participant ids
func (c *Conversation) UserIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// ConversationMember links a user to a conversation
type ConversationMember struct {
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);primaryKey"`
	UserID         string    `json:"user_id" gorm:"type:varchar(36);primaryKey;index"`
	JoinedAt       time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

func (ConversationMember) TableName() string { return "conversation_members" }

// Message is immutable once persisted. SenderID is nil for anonymous
// real-time senders. Both ids may be client-supplied on the real-time path,
// so they are sized for MaxExternalIDLength rather than a uuid.
type Message struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(256);index:idx_messages_conversation_created,priority:1;not null"`
	SenderID       *string   `json:"sender_id,omitempty" gorm:"type:varchar(256)"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_messages_conversation_created,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

// MessageView is a message rendered relative to the user reading it
type MessageView struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ViewFor labels the message "me" when readerID sent it, "they" otherwise
func (m *Message) ViewFor(readerID string) MessageView {
	sender := SenderThey
	if m.SenderID != nil && *m.SenderID == readerID {
		sender = SenderMe
	}
	return MessageView{
		ID:        m.ID,
		Text:      m.Content,
		Sender:    sender,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// TokenPair is returned by signup, signin and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// MessageResponse is the JSON shape of a message created over REST. It is
// also the payload pushed to live sockets for such messages.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       *string   `json:"sender_id,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Response converts a persisted message to its wire shape
func (m *Message) Response() MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Content,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
