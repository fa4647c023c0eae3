package sessions

import "strings"

// Session is a host-owned audience event that questions attach to. AcceptingQuestions
// gates new submissions; Active distinguishes live events from archived ones.
type Session struct {
	SessionID          string `gorm:"column:session_id;primaryKey;size:190;not null"`
	HostID             string `gorm:"column:host_id;size:190;not null;index:idx_sessions_host"`
	Title              string `gorm:"column:title;size:200;not null"`
	AcceptingQuestions bool   `gorm:"column:accepting_questions;not null;default:true"`
	Active             bool   `gorm:"column:active;not null;default:true"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing sessions.
func (Session) TableName() string {
	return "sessions"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
