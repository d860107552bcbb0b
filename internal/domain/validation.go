package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCandidate is wrapped by every candidate validation failure.
var ErrInvalidCandidate = errors.New("invalid candidate post")

// ValidateFamily validates an entity family name
func ValidateFamily(family string) error {
	for _, f := range AllFamilies {
		if string(f) == family {
			return nil
		}
	}
	return fmt.Errorf("invalid family %q", family)
}

// ValidateCandidate checks the shape invariants before a candidate is handed
// to the creation interface.
func ValidateCandidate(c Candidate) error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidCandidate)
	}
	base := c.Base()
	if base.Origin.Key == "" {
		return fmt.Errorf("%w: missing import id", ErrInvalidCandidate)
	}
	if !base.Origin.Family.IsPostFamily() {
		return fmt.Errorf("%w: family %q does not produce posts", ErrInvalidCandidate, base.Origin.Family)
	}

	switch p := c.(type) {
	case *NewTopicPost:
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: new topic %s has no title", ErrInvalidCandidate, base.Origin)
		}
	case *ReplyPost:
		if p.TopicID <= 0 {
			return fmt.Errorf("%w: reply %s has no topic", ErrInvalidCandidate, base.Origin)
		}
		if p.ReplyToPostNumber != nil && *p.ReplyToPostNumber < 2 {
			return fmt.Errorf("%w: reply %s targets post number %d", ErrInvalidCandidate, base.Origin, *p.ReplyToPostNumber)
		}
	default:
		return fmt.Errorf("%w: unknown shape %T", ErrInvalidCandidate, c)
	}
	return nil
}
