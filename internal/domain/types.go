package domain

import (
	"time"
)

// Family names one legacy entity family. Each family is its own
// identity-mapping namespace.
type Family string

const (
	FamilyUser             Family = "user"
	FamilyGroup            Family = "group"
	FamilyCategory         Family = "category" // Community and Discussion rows
	FamilyDiscussionPost   Family = "discussion_post"
	FamilyLibraryEntry     Family = "library_entry"
	FamilyLibraryEntryFile Family = "library_entry_file"
	FamilyItemComment      Family = "item_comment"
	FamilyAnnouncement     Family = "announcement"
	FamilyBlog             Family = "blog"
)

// AllFamilies lists every family in pipeline order.
var AllFamilies = []Family{
	FamilyGroup,
	FamilyUser,
	FamilyCategory,
	FamilyDiscussionPost,
	FamilyLibraryEntry,
	FamilyItemComment,
	FamilyLibraryEntryFile,
	FamilyAnnouncement,
	FamilyBlog,
}

// IsPostFamily reports whether records of the family become posts.
func (f Family) IsPostFamily() bool {
	switch f {
	case FamilyDiscussionPost, FamilyLibraryEntry, FamilyItemComment, FamilyAnnouncement, FamilyBlog:
		return true
	}
	return false
}

// UnknownUserID is the reserved system account that authors content whose
// legacy author cannot be resolved.
const UnknownUserID int64 = -1

// OriginKey is the composite identity of a legacy record.
type OriginKey struct {
	Family Family
	Key    string
}

func (k OriginKey) String() string {
	return string(k.Family) + ":" + k.Key
}

// TopicAnchor locates an already-imported post inside its topic.
// PostNumber is the anchored post's number; HighestPostNumber is the
// topic's highest number at the time the anchor was read.
type TopicAnchor struct {
	TopicID           int64 `json:"topic_id"`
	PostNumber        int   `json:"post_number"`
	HighestPostNumber int   `json:"highest_post_number"`
}

// ReplyTo returns the reply_to_post_number for a reply to the anchored post.
// Post number 1 is the implicit target and yields nil.
func (a TopicAnchor) ReplyTo() *int {
	if a.PostNumber <= 1 {
		return nil
	}
	n := a.PostNumber
	return &n
}

// PostBase holds the fields shared by both candidate shapes.
type PostBase struct {
	Origin    OriginKey
	UserID    int64
	Raw       string
	CreatedAt time.Time
	Tags      []string
}

// Candidate is a post ready for the creation interface: either a
// NewTopicPost or a ReplyPost, never both.
type Candidate interface {
	Base() *PostBase
	candidate()
}

// NewTopicPost opens a topic. CategoryID is nil when the category could not
// be resolved; the store files such topics as uncategorized.
type NewTopicPost struct {
	PostBase
	CategoryID *int64
	Title      string
	Pinned     bool
}

func (p *NewTopicPost) Base() *PostBase { return &p.PostBase }
func (*NewTopicPost) candidate()        {}

// ReplyPost attaches to an existing topic.
type ReplyPost struct {
	PostBase
	TopicID           int64
	ReplyToPostNumber *int
}

func (p *ReplyPost) Base() *PostBase { return &p.PostBase }
func (*ReplyPost) candidate()        {}

// AttachmentBinding is the join fact between a post and an upload.
type AttachmentBinding struct {
	PostID   int64 `json:"post_id" db:"post_id"`
	UploadID int64 `json:"upload_id" db:"upload_id"`
}

// User is a target platform account.
type User struct {
	ID         int64      `json:"id" db:"id"`
	Username   string     `json:"username" db:"username"`
	Email      string     `json:"email" db:"email"`
	Name       string     `json:"name" db:"name"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
}

// Group is a target group; communities become groups.
type Group struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	FullName string `json:"full_name" db:"full_name"`
}

// Category is a target category; discussions become child categories.
type Category struct {
	ID               int64  `json:"id" db:"id"`
	Name             string `json:"name" db:"name"`
	Slug             string `json:"slug" db:"slug"`
	Description      string `json:"description" db:"description"`
	ParentCategoryID *int64 `json:"parent_category_id,omitempty" db:"parent_category_id"`
	UserID           int64  `json:"user_id" db:"user_id"`
}

// Post is a persisted target post.
type Post struct {
	ID                int64     `json:"id" db:"id"`
	TopicID           int64     `json:"topic_id" db:"topic_id"`
	UserID            int64     `json:"user_id" db:"user_id"`
	PostNumber        int       `json:"post_number" db:"post_number"`
	ReplyToPostNumber *int      `json:"reply_to_post_number,omitempty" db:"reply_to_post_number"`
	Raw               string    `json:"raw" db:"raw"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Upload is a stored file.
type Upload struct {
	ID               int64  `json:"id" db:"id"`
	UserID           int64  `json:"user_id" db:"user_id"`
	OriginalFilename string `json:"original_filename" db:"original_filename"`
	Extension        string `json:"extension" db:"extension"`
	MimeType         string `json:"mime_type" db:"mime_type"`
	SizeBytes        int64  `json:"size_bytes" db:"size_bytes"`
	SHA256           string `json:"sha256" db:"sha256"`
	URL              string `json:"url" db:"url"`
}
