package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
)

// MaxPageSize is the largest page the REST API returns per request.
const MaxPageSize = 100

// MessagesAfter returns up to limit messages of channelID strictly after the
// given ID, oldest first.
func (c *Client) MessagesAfter(ctx context.Context, channelID string, after uint64, limit int) ([]*discordgo.Message, error) {
	var out []*discordgo.Message
	cursor := after
	for remaining := limit; remaining > 0; {
		page := min(remaining, MaxPageSize)
		if err := c.limiter.Wait(ctx, channelID); err != nil {
			return nil, err
		}
		msgs, err := c.session.ChannelMessages(channelID, page, "", snowflake.Format(cursor), "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch messages of %s after %d: %w", channelID, cursor, err)
		}
		if len(msgs) == 0 {
			break
		}
		sortByID(msgs, func(m *discordgo.Message) string { return m.ID })
		out = append(out, msgs...)
		last, err := snowflake.Parse(msgs[len(msgs)-1].ID)
		if err != nil {
			return nil, err
		}
		cursor = last
		remaining -= len(msgs)
		if len(msgs) < page {
			break
		}
	}
	return out, nil
}

// OldestMessage returns the first message ever posted in channelID, or nil
// when the channel is empty.
func (c *Client) OldestMessage(ctx context.Context, channelID string) (*discordgo.Message, error) {
	if err := c.limiter.Wait(ctx, channelID); err != nil {
		return nil, err
	}
	msgs, err := c.session.ChannelMessages(channelID, 1, "", "0", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch oldest message of %s: %w", channelID, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// ReactionUsers lists every user who reacted to a message with emoji.
func (c *Client) ReactionUsers(ctx context.Context, channelID, messageID string, emoji *discordgo.Emoji) ([]*discordgo.User, error) {
	if emoji == nil {
		return nil, fmt.Errorf("reaction on %s has no emoji", messageID)
	}
	var out []*discordgo.User
	after := ""
	for {
		if err := c.limiter.Wait(ctx, channelID); err != nil {
			return nil, err
		}
		users, err := c.session.MessageReactions(channelID, messageID, emoji.APIName(), MaxPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch reactions %s on %s: %w", emoji.APIName(), messageID, err)
		}
		out = append(out, users...)
		if len(users) < MaxPageSize {
			return out, nil
		}
		after = users[len(users)-1].ID
	}
}

// AuditLogAfter returns up to limit audit log entries of guildID strictly
// after the given ID, oldest first.
func (c *Client) AuditLogAfter(ctx context.Context, guildID string, after uint64, limit int) ([]*discordgo.AuditLogEntry, error) {
	var out []*discordgo.AuditLogEntry
	cursor := after
	for remaining := limit; remaining > 0; {
		page := min(remaining, MaxPageSize)
		entries, err := c.auditLogPage(ctx, guildID, cursor, page)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		sortByID(entries, func(e *discordgo.AuditLogEntry) string { return e.ID })
		out = append(out, entries...)
		last, err := snowflake.Parse(entries[len(entries)-1].ID)
		if err != nil {
			return nil, err
		}
		cursor = last
		remaining -= len(entries)
		if len(entries) < page {
			break
		}
	}
	return out, nil
}

// auditLogPage issues the request directly: the session helper cannot page
// forwards with after.
func (c *Client) auditLogPage(ctx context.Context, guildID string, after uint64, limit int) ([]*discordgo.AuditLogEntry, error) {
	if err := c.limiter.Wait(ctx, guildID); err != nil {
		return nil, err
	}
	bucket := discordgo.EndpointGuildAuditLogs(guildID)
	q := url.Values{}
	q.Set("after", snowflake.Format(after))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.session.RequestWithBucketID(http.MethodGet, bucket+"?"+q.Encode(), nil, bucket, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch audit log of %s after %d: %w", guildID, after, err)
	}
	var auditLog discordgo.GuildAuditLog
	if err := json.Unmarshal(body, &auditLog); err != nil {
		return nil, fmt.Errorf("decode audit log of %s: %w", guildID, err)
	}
	return auditLog.AuditLogEntries, nil
}

// sortByID orders items by ascending snowflake. Unparseable IDs sort first.
func sortByID[T any](items []T, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := snowflake.Parse(id(items[i]))
		b, _ := snowflake.Parse(id(items[j]))
		return a < b
	})
}
