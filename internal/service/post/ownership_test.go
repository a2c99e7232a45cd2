package post

import (
	"testing"

	"github.com/splax/feed/internal/apperror"
	"github.com/splax/feed/internal/domain"
)

func TestAssertOwner(t *testing.T) {
	post := &domain.Post{ID: "p1", Creator: domain.Creator{ID: "owner"}}
	cases := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"owner", "owner", false},
		{"other user", "someone-else", true},
		{"unknown id", "does-not-exist", true},
		{"empty id", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := AssertOwner(post, tc.userID)
			if tc.wantErr && !apperror.Is(err, apperror.KindForbidden) {
				t.Fatalf("expected forbidden, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
