package model

import "time"

// PostType mirrors the media types the content source reports.
type PostType string

const (
	PostTypeImage    PostType = "IMAGE"
	PostTypeVideo    PostType = "VIDEO"
	PostTypeCarousel PostType = "CAROUSEL_ALBUM"
	PostTypeReel     PostType = "REELS"
)

// Post is a published media item on the connected account.
type Post struct {
	ID        string
	Caption   string
	MediaType PostType
	Permalink string
	Timestamp time.Time
}

// Comment is a single comment fetched from the content source. Identity is
// ID, globally unique per source. Immutable once fetched; post context is
// attached at detection time so later stages don't need another fetch.
type Comment struct {
	ID          string
	PostID      string
	Username    string
	UserID      string
	Text        string
	Timestamp   time.Time
	PostCaption string
	PostType    PostType
}

// ReplyStatus is the terminal status folded into a processed-comment marker.
type ReplyStatus string

const (
	ReplyStatusPosted  ReplyStatus = "reply_posted"
	ReplyStatusFailed  ReplyStatus = "failed"
	ReplyStatusSkipped ReplyStatus = "skipped"
)

// DeliveryType records whether a reply went out publicly or as a private
// message fallback.
type DeliveryType string

const (
	DeliveryPublic  DeliveryType = "public"
	DeliveryPrivate DeliveryType = "private"
)

// ProcessedComment is the durable dedup marker for a handled comment.
// Existence of a row is the at-most-once guarantee; the remaining fields are
// audit detail.
type ProcessedComment struct {
	CommentID   string
	PostID      string
	Username    string
	Text        string
	Reply       string
	ReplyID     *string
	Delivery    *DeliveryType
	Status      ReplyStatus
	ProcessedAt time.Time
}

// AccountInfo identifies the automation account itself, used for self-reply
// filtering.
type AccountInfo struct {
	ID       string
	Username string
}
