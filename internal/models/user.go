package models

// User is the minimal account row the upload path validates against. The
// full account domain lives in another service; only the fields gating
// uploads are persisted here.
type User struct {
	BaseModel

	Email         string `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Active        bool   `gorm:"default:true" json:"active"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// CanUpload reports whether the account state allows issuing upload URLs.
func (u *User) CanUpload() bool {
	return u.Active && u.EmailVerified
}
