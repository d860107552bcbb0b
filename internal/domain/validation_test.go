package domain

import (
	"errors"
	"testing"
)

func intPtr(n int) *int { return &n }

func TestValidateFamily(t *testing.T) {
	tests := []struct {
		name    string
		family  string
		wantErr bool
	}{
		{name: "user", family: "user", wantErr: false},
		{name: "discussion_post", family: "discussion_post", wantErr: false},
		{name: "item_comment", family: "item_comment", wantErr: false},
		{name: "empty", family: "", wantErr: true},
		{name: "uppercase", family: "USER", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFamily(tt.family)
			if tt.wantErr && err == nil {
				t.Error("ValidateFamily() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateFamily() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCandidate(t *testing.T) {
	origin := OriginKey{Family: FamilyDiscussionPost, Key: "P1"}

	tests := []struct {
		name    string
		c       Candidate
		wantErr bool
	}{
		{
			name:    "new topic",
			c:       &NewTopicPost{PostBase: PostBase{Origin: origin}, Title: "Hello"},
			wantErr: false,
		},
		{
			name:    "new topic without title",
			c:       &NewTopicPost{PostBase: PostBase{Origin: origin}},
			wantErr: true,
		},
		{
			name:    "reply",
			c:       &ReplyPost{PostBase: PostBase{Origin: origin}, TopicID: 7, ReplyToPostNumber: intPtr(5)},
			wantErr: false,
		},
		{
			name:    "reply without topic",
			c:       &ReplyPost{PostBase: PostBase{Origin: origin}},
			wantErr: true,
		},
		{
			name:    "reply to first post made explicit",
			c:       &ReplyPost{PostBase: PostBase{Origin: origin}, TopicID: 7, ReplyToPostNumber: intPtr(1)},
			wantErr: true,
		},
		{
			name:    "missing import id",
			c:       &NewTopicPost{PostBase: PostBase{Origin: OriginKey{Family: FamilyBlog}}, Title: "x"},
			wantErr: true,
		},
		{
			name:    "non post family",
			c:       &NewTopicPost{PostBase: PostBase{Origin: OriginKey{Family: FamilyUser, Key: "U1"}}, Title: "x"},
			wantErr: true,
		},
		{
			name:    "nil",
			c:       nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCandidate(tt.c)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ValidateCandidate() expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidCandidate) {
					t.Errorf("expected ErrInvalidCandidate, got %v", err)
				}
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateCandidate() unexpected error: %v", err)
			}
		})
	}
}

func TestTopicAnchorReplyTo(t *testing.T) {
	if got := (TopicAnchor{TopicID: 7, PostNumber: 1}).ReplyTo(); got != nil {
		t.Errorf("ReplyTo() for post 1 = %d, want nil", *got)
	}
	got := (TopicAnchor{TopicID: 7, PostNumber: 5}).ReplyTo()
	if got == nil || *got != 5 {
		t.Errorf("ReplyTo() for post 5 = %v, want 5", got)
	}
}
