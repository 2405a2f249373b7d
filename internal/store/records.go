package store

import "time"

// Message is one persisted chat message.
type Message struct {
	ID            uint64
	ChannelID     uint64
	GuildID       uint64
	AuthorID      uint64
	Type          int
	Content       string
	Embeds        []byte
	Attachments   int
	WebhookID     *uint64
	CreatedAt     time.Time
	EditedAt      *time.Time
	ReferencedID  *uint64
	MentionsCount int
}

// Emoji is either a custom guild emoji (ID set) or a unicode one (Unicode set).
type Emoji struct {
	ID       uint64
	Unicode  string
	Name     string
	Custom   bool
	Managed  bool
	Animated bool
	GuildID  *uint64
	Roles    []uint64
}

// Reaction is a single user's reaction to a message.
type Reaction struct {
	MessageID    uint64
	ChannelID    uint64
	GuildID      uint64
	EmojiID      uint64
	EmojiUnicode string
	UserID       uint64
}

// AuditLogEntry is one guild audit-log record. Changes holds the JSON encoded
// before/after pairs the remote reported.
type AuditLogEntry struct {
	ID       uint64
	GuildID  uint64
	Action   int
	UserID   uint64
	TargetID uint64
	Reason   string
	Changes  []byte
	Options  []byte
}

// MentionType tells what kind of object a mention points at.
type MentionType int

// Mention types.
const (
	MentionUser MentionType = iota
	MentionRole
	MentionChannel
)

// String returns the lowercase name of the mention type.
func (t MentionType) String() string {
	switch t {
	case MentionUser:
		return "user"
	case MentionRole:
		return "role"
	case MentionChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Mention links a message to a user, role or channel it mentions.
type Mention struct {
	MessageID   uint64
	MentionedID uint64
	Type        MentionType
	ChannelID   uint64
	GuildID     uint64
}

// Guild is the lookup row of a guild.
type Guild struct {
	ID      uint64
	Name    string
	Icon    string
	OwnerID uint64
}

// Channel is the lookup row of a text channel.
type Channel struct {
	ID       uint64
	GuildID  uint64
	Name     string
	Topic    string
	Position int
	NSFW     bool
	ParentID *uint64
}

// User is the lookup row of a message author, mentioned user or reactor.
type User struct {
	ID            uint64
	Name          string
	Discriminator string
	Avatar        string
	Bot           bool
}
