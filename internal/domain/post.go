package domain

import "time"

// Creator is the public projection of a post's owner.
type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Post is a feed entry. Creator is fixed at creation; Version increases on every update.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl"`
	Creator   Creator   `json:"creator"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Post lifecycle event names.
const (
	EventPostCreated = "post.created"
	EventPostUpdated = "post.updated"
	EventPostDeleted = "post.deleted"
)

// PostEvent is the payload pushed to real-time subscribers.
type PostEvent struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Post   Post   `json:"post"`
}

// NewPostEvent pairs an event name with its client-facing action.
func NewPostEvent(event string, post Post) PostEvent {
	action := "create"
	switch event {
	case EventPostUpdated:
		action = "update"
	case EventPostDeleted:
		action = "delete"
	}
	return PostEvent{Event: event, Action: action, Post: post}
}
