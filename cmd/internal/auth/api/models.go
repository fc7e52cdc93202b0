package authapi

import "time"

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type updateRequest struct {
	Message string `json:"message"`
}

type userResponse struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	IsActivated     bool      `json:"is_activated"`
	IsEmailVerified bool      `json:"is_email_verified"`
	AccountFlag     string    `json:"account_flag"`
	CreatedAt       time.Time `json:"created_at"`
}

// sessionResponse never carries the token; it travels only in the cookie.
type sessionResponse struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	LastActivityIP string    `json:"last_activity_ip"`
}

type authResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type updateResponse struct {
	Seq       int64     `json:"seq"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type updatesResponse struct {
	Updates []updateResponse `json:"updates"`
}
