package history

import "time"

// Role 标识一条聊天记录的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn 是 sys_history 表中的一条聊天记录，写入后不再修改。
type Turn struct {
	ID        int64     `json:"id"`
	Datetime  time.Time `json:"datetime"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	SessionID int64     `json:"sessionId"`
}

// NewTurn builds an unsaved turn stamped with the current time.
func NewTurn(sessionID int64, role Role, content string) Turn {
	return Turn{
		Datetime:  time.Now().UTC(),
		Role:      role,
		Content:   content,
		SessionID: sessionID,
	}
}
