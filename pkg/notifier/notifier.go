// Package notifier contains the core domain types for the ModDB comment notification service.
package notifier

// Member is a watched ModDB member and the address their notifications go to.
type Member struct {
	UID   string `yaml:"uid"`   // ModDB member identifier (profile slug)
	Email string `yaml:"email"` // Notification recipient
}

// Profile is a member page as fetched at the start of a run.
type Profile struct {
	Name   string         // Display name, used to recognize self-comments
	Addons []*ContentItem // Content items owned by the member
}

// ContentItem is an add-on (or any other commentable item) owned by a member.
type ContentItem struct {
	Name string
	URL  string
}

// Comment is a single entry in a content item's comment listing.
type Comment struct {
	Author    string
	Content   string
	Timestamp int64 // Unix seconds
}

// Found is a comment that qualifies for a notification, tagged with the item it was left on.
type Found struct {
	Comment  *Comment
	ItemName string
	ItemURL  string
}

// Message is a rendered notification ready for a mail transport.
type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}
