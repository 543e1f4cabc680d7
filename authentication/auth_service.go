package authentication

import (
	"net/http"
)

// An AuthService tells which user sent a request. Accounts and sign-in are
// handled elsewhere, agora only reads the session they leave behind.
type AuthService interface {
	CurrentUser(req *http.Request) (*User, error)
	SignOut(res http.ResponseWriter, req *http.Request) error
}

// A User is the identity carried by a session.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
