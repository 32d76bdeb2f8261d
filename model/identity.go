package model

import "time"

// User is a player reachable by phone.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Phone     string    `gorm:"index:idx_user_phone;size:32" json:"phone"`
	SMSOptIn  bool      `gorm:"not null;default:false" json:"sms_opt_in"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Team groups users so a quest can be assigned to all of them.
type Team struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TeamMember links a user to a team.
type TeamMember struct {
	TeamID   int64     `gorm:"primaryKey;index:idx_team_member" json:"team_id"`
	UserID   int64     `gorm:"primaryKey;index:idx_user_team" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}
