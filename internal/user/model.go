package user

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Password     string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Image        string    `json:"image,omitempty"`
	Color        int       `json:"color"`
	ProfileSetup bool      `json:"profileSetup"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DisplayName is the contact label: the full name when the profile is set
// up, the email otherwise.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.Name != "":
		return u.Name
	default:
		return u.Email
	}
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type ProfileUpdate struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Color     int    `json:"color"`
	Image     string `json:"image"`
}

// Contact is an entry of the contact picker.
type Contact struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// DMContact is a direct message partner with the time of the last message.
type DMContact struct {
	*User
	LastMessageTime time.Time `json:"lastMessageTime"`
}
