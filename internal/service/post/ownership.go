package post

import (
	"github.com/splax/feed/internal/apperror"
	"github.com/splax/feed/internal/domain"
)

// AssertOwner fails with Forbidden unless userID created post.
func AssertOwner(post *domain.Post, userID string) error {
	if post == nil || userID == "" || post.Creator.ID != userID {
		return apperror.Forbidden("not authorized")
	}
	return nil
}
