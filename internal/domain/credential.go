package domain

import "time"

// PasswordCredential holds the password hash of an account. A user without a
// credential row authenticates through the external Auth Service only.
type PasswordCredential struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	UserID      UserID    `gorm:"type:varchar(64);not null;uniqueIndex:ux_pwd_user"`
	Algo        string    `gorm:"type:text;not null"`
	Hash        []byte    `gorm:"not null"`
	Salt        []byte    `gorm:"not null"`
	ParamsJSON  []byte    `gorm:"not null"`
	PasswordVer int       `gorm:"not null;default:1"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (PasswordCredential) TableName() string { return "password_credentials" }

func (p *PasswordCredential) GetAlgo() string       { return p.Algo }
func (p *PasswordCredential) GetHash() []byte       { return p.Hash }
func (p *PasswordCredential) GetSalt() []byte       { return p.Salt }
func (p *PasswordCredential) GetParamsJSON() []byte { return p.ParamsJSON }
func (p *PasswordCredential) GetPasswordVer() int   { return p.PasswordVer }
