package domain

import "time"

type User struct {
	ID        UserID     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string     `gorm:"type:text;not null" json:"name"`
	Username  string     `gorm:"type:varchar(80);not null;uniqueIndex:ux_users_username" json:"username"`
	Email     string     `gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email" json:"email"`
	Mobile    *string    `gorm:"type:varchar(32);uniqueIndex:ux_users_mobile" json:"mobile,omitempty"`
	Avatar    string     `gorm:"type:text" json:"avatar,omitempty"`
	IsOnline  bool       `gorm:"not null;default:false" json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Deleted   bool       `gorm:"not null;default:false;index" json:"deleted,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// Public is the subset of a user other accounts may see.
type Public struct {
	ID       UserID     `json:"id"`
	Name     string     `json:"name"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func (u *User) Public() Public {
	return Public{
		ID:       u.ID,
		Name:     u.Name,
		Username: u.Username,
		Email:    u.Email,
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}
