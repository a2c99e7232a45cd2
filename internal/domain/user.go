package domain

import "time"

// DefaultStatus is assigned to accounts at signup.
const DefaultStatus = "I am new!"

// User represents a feed account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash []byte    `json:"-"`
	Status       string    `json:"status"`
	PostIDs      []string  `json:"posts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Creator returns the minimal projection of the user embedded in posts and events.
func (u User) Creator() Creator {
	return Creator{ID: u.ID, Name: u.Name}
}

// Verdict is the per-request outcome of bearer token verification.
type Verdict struct {
	Authenticated bool
	UserID        string
}

// Anonymous is the verdict for requests without a usable credential.
var Anonymous = Verdict{}
