package sources

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

func parseOptional(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return snowflake.Parse(s)
}

func optionalID(s string) (*uint64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := snowflake.Parse(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func messageRecord(m Message) (store.Message, error) {
	channelID, err := snowflake.Parse(m.ChannelID)
	if err != nil {
		return store.Message{}, fmt.Errorf("message %s channel: %w", m.ID, err)
	}
	guildID, err := parseOptional(m.GuildID)
	if err != nil {
		return store.Message{}, fmt.Errorf("message %s guild: %w", m.ID, err)
	}
	var authorID uint64
	if m.Author != nil {
		if authorID, err = parseOptional(m.Author.ID); err != nil {
			return store.Message{}, fmt.Errorf("message %s author: %w", m.ID, err)
		}
	}
	webhookID, err := optionalID(m.WebhookID)
	if err != nil {
		return store.Message{}, fmt.Errorf("message %s webhook: %w", m.ID, err)
	}
	var referenced *uint64
	if m.MessageReference != nil {
		if referenced, err = optionalID(m.MessageReference.MessageID); err != nil {
			return store.Message{}, fmt.Errorf("message %s reference: %w", m.ID, err)
		}
	}
	var embeds []byte
	if len(m.Embeds) > 0 {
		if embeds, err = json.Marshal(m.Embeds); err != nil {
			return store.Message{}, fmt.Errorf("message %s embeds: %w", m.ID, err)
		}
	}

	created := m.Timestamp
	if created.IsZero() {
		created = snowflake.Time(m.id)
	}
	return store.Message{
		ID:            m.id,
		ChannelID:     channelID,
		GuildID:       guildID,
		AuthorID:      authorID,
		Type:          int(m.Type),
		Content:       m.Content,
		Embeds:        embeds,
		Attachments:   len(m.Attachments),
		WebhookID:     webhookID,
		CreatedAt:     created.UTC(),
		EditedAt:      m.EditedTimestamp,
		ReferencedID:  referenced,
		MentionsCount: len(m.Mentions),
	}, nil
}

// mentionRecords lists the users, roles and channels m mentions.
func mentionRecords(m Message, msg store.Message) ([]store.Mention, error) {
	out := make([]store.Mention, 0, len(m.Mentions)+len(m.MentionRoles)+len(m.MentionChannels))
	add := func(kind store.MentionType, id string) error {
		mentioned, err := snowflake.Parse(id)
		if err != nil {
			return fmt.Errorf("message %s %s mention: %w", m.ID, kind, err)
		}
		out = append(out, store.Mention{
			MessageID:   msg.ID,
			MentionedID: mentioned,
			Type:        kind,
			ChannelID:   msg.ChannelID,
			GuildID:     msg.GuildID,
		})
		return nil
	}
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		if err := add(store.MentionUser, u.ID); err != nil {
			return nil, err
		}
	}
	for _, role := range m.MentionRoles {
		if err := add(store.MentionRole, role); err != nil {
			return nil, err
		}
	}
	for _, ch := range m.MentionChannels {
		if ch == nil {
			continue
		}
		if err := add(store.MentionChannel, ch.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func guildRecord(g *discordgo.Guild) (store.Guild, error) {
	id, err := snowflake.Parse(g.ID)
	if err != nil {
		return store.Guild{}, fmt.Errorf("guild id: %w", err)
	}
	owner, err := parseOptional(g.OwnerID)
	if err != nil {
		return store.Guild{}, fmt.Errorf("guild %s owner: %w", g.ID, err)
	}
	return store.Guild{ID: id, Name: g.Name, Icon: g.Icon, OwnerID: owner}, nil
}

// channelRecord falls back to guildID when the cached channel lacks one.
func channelRecord(ch *discordgo.Channel, guildID uint64) (store.Channel, error) {
	id, err := snowflake.Parse(ch.ID)
	if err != nil {
		return store.Channel{}, fmt.Errorf("channel id: %w", err)
	}
	if ch.GuildID != "" {
		if guildID, err = snowflake.Parse(ch.GuildID); err != nil {
			return store.Channel{}, fmt.Errorf("channel %s guild: %w", ch.ID, err)
		}
	}
	parent, err := optionalID(ch.ParentID)
	if err != nil {
		return store.Channel{}, fmt.Errorf("channel %s parent: %w", ch.ID, err)
	}
	return store.Channel{
		ID:       id,
		GuildID:  guildID,
		Name:     ch.Name,
		Topic:    ch.Topic,
		Position: ch.Position,
		NSFW:     ch.NSFW,
		ParentID: parent,
	}, nil
}

func userRecord(u *discordgo.User) (store.User, error) {
	id, err := snowflake.Parse(u.ID)
	if err != nil {
		return store.User{}, fmt.Errorf("user id: %w", err)
	}
	return store.User{
		ID:            id,
		Name:          u.Username,
		Discriminator: u.Discriminator,
		Avatar:        u.Avatar,
		Bot:           u.Bot,
	}, nil
}

// emojiRecord distinguishes custom emojis (snowflake ID) from unicode ones
// (name only). Custom emojis are attributed to guildID, the guild of the
// message they were found on.
func emojiRecord(e *discordgo.Emoji, guildID uint64) (store.Emoji, error) {
	if e.ID == "" {
		return store.Emoji{Unicode: e.Name, Name: e.Name}, nil
	}
	id, err := snowflake.Parse(e.ID)
	if err != nil {
		return store.Emoji{}, fmt.Errorf("emoji %s: %w", e.Name, err)
	}
	roles := make([]uint64, 0, len(e.Roles))
	for _, r := range e.Roles {
		role, err := snowflake.Parse(r)
		if err != nil {
			return store.Emoji{}, fmt.Errorf("emoji %s role: %w", e.Name, err)
		}
		roles = append(roles, role)
	}
	rec := store.Emoji{
		ID:       id,
		Name:     e.Name,
		Custom:   true,
		Managed:  e.Managed,
		Animated: e.Animated,
		Roles:    roles,
	}
	if guildID != 0 {
		rec.GuildID = &guildID
	}
	return rec, nil
}

func reactionRecord(msg store.Message, emoji store.Emoji, user *discordgo.User) (store.Reaction, error) {
	userID, err := snowflake.Parse(user.ID)
	if err != nil {
		return store.Reaction{}, fmt.Errorf("reaction user: %w", err)
	}
	return store.Reaction{
		MessageID:    msg.ID,
		ChannelID:    msg.ChannelID,
		GuildID:      msg.GuildID,
		EmojiID:      emoji.ID,
		EmojiUnicode: emoji.Unicode,
		UserID:       userID,
	}, nil
}

func auditLogRecord(e AuditLogEntry) (store.AuditLogEntry, error) {
	guildID, err := snowflake.Parse(e.GuildID)
	if err != nil {
		return store.AuditLogEntry{}, fmt.Errorf("audit log entry %s guild: %w", e.ID, err)
	}
	userID, err := parseOptional(e.UserID)
	if err != nil {
		return store.AuditLogEntry{}, fmt.Errorf("audit log entry %s user: %w", e.ID, err)
	}
	// Some actions target non-snowflake objects; those keep a zero target.
	targetID, _ := parseOptional(e.TargetID)

	rec := store.AuditLogEntry{
		ID:       e.id,
		GuildID:  guildID,
		UserID:   userID,
		TargetID: targetID,
		Reason:   e.Reason,
	}
	if e.ActionType != nil {
		rec.Action = int(*e.ActionType)
	}
	if len(e.Changes) > 0 {
		if rec.Changes, err = json.Marshal(e.Changes); err != nil {
			return store.AuditLogEntry{}, fmt.Errorf("audit log entry %s changes: %w", e.ID, err)
		}
	}
	if e.Options != nil {
		if rec.Options, err = json.Marshal(e.Options); err != nil {
			return store.AuditLogEntry{}, fmt.Errorf("audit log entry %s options: %w", e.ID, err)
		}
	}
	return rec, nil
}
