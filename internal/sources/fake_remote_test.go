package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/snowflake"
	memstore "github.com/JakeFAU/discord-event-crawler/internal/storage/memory"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// fakeRemote serves canned Discord state for the hooks.
type fakeRemote struct {
	mu        sync.Mutex
	present   []string
	tracked   map[string]bool
	channels  map[string][]*discordgo.Channel
	readable  map[string]bool
	messages  map[string][]*discordgo.Message
	reactions map[string][]*discordgo.User
	audit     map[string][]*discordgo.AuditLogEntry
	readErr   error

	onCreate func(*discordgo.Channel)
	onDelete func(*discordgo.Channel)
	onUpdate func(before, after *discordgo.Channel)
}

func newFakeRemote(tracked ...string) *fakeRemote {
	r := &fakeRemote{
		tracked:   make(map[string]bool),
		channels:  make(map[string][]*discordgo.Channel),
		readable:  make(map[string]bool),
		messages:  make(map[string][]*discordgo.Message),
		reactions: make(map[string][]*discordgo.User),
		audit:     make(map[string][]*discordgo.AuditLogEntry),
	}
	for _, g := range tracked {
		r.tracked[g] = true
		r.present = append(r.present, g)
	}
	return r
}

func (r *fakeRemote) addChannel(guildID, channelID string, readable bool) *discordgo.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := &discordgo.Channel{ID: channelID, GuildID: guildID, Name: "c" + channelID, Type: discordgo.ChannelTypeGuildText}
	r.channels[guildID] = append(r.channels[guildID], ch)
	r.readable[channelID] = readable
	return ch
}

func (r *fakeRemote) setReadable(channelID string, readable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readable[channelID] = readable
}

func (r *fakeRemote) addMessages(channelID string, msgs ...*discordgo.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[channelID] = append(r.messages[channelID], msgs...)
	sort.Slice(r.messages[channelID], func(i, j int) bool {
		a, _ := snowflake.Parse(r.messages[channelID][i].ID)
		b, _ := snowflake.Parse(r.messages[channelID][j].ID)
		return a < b
	})
}

func (r *fakeRemote) Guilds() []string {
	return append([]string(nil), r.present...)
}

func (r *fakeRemote) Tracked(guildID string) bool {
	return r.tracked[guildID]
}

func (r *fakeRemote) HasGuild(guildID string) bool {
	for _, g := range r.present {
		if g == guildID {
			return r.tracked[guildID]
		}
	}
	return false
}

func (r *fakeRemote) Guild(guildID string) (*discordgo.Guild, error) {
	if !r.HasGuild(guildID) {
		return nil, fmt.Errorf("guild %s not found", guildID)
	}
	return &discordgo.Guild{ID: guildID, Name: "g" + guildID, OwnerID: "7"}, nil
}

func (r *fakeRemote) TextChannels(guildID string) ([]*discordgo.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*discordgo.Channel(nil), r.channels[guildID]...), nil
}

func (r *fakeRemote) CanReadHistory(ch *discordgo.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ch != nil && r.readable[ch.ID]
}

func (r *fakeRemote) MessagesAfter(_ context.Context, channelID string, after uint64, limit int) ([]*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var out []*discordgo.Message
	for _, m := range r.messages[channelID] {
		id, _ := snowflake.Parse(m.ID)
		if id > after && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRemote) OldestMessage(_ context.Context, channelID string) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msgs := r.messages[channelID]; len(msgs) > 0 {
		return msgs[0], nil
	}
	return nil, nil
}

func (r *fakeRemote) ReactionUsers(_ context.Context, _, messageID string, emoji *discordgo.Emoji) ([]*discordgo.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reactions[messageID+"/"+emoji.APIName()], nil
}

func (r *fakeRemote) AuditLogAfter(_ context.Context, guildID string, after uint64, limit int) ([]*discordgo.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var out []*discordgo.AuditLogEntry
	for _, e := range r.audit[guildID] {
		id, _ := snowflake.Parse(e.ID)
		if id > after && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRemote) OnChannelCreate(fn func(*discordgo.Channel))               { r.onCreate = fn }
func (r *fakeRemote) OnChannelDelete(fn func(*discordgo.Channel))               { r.onDelete = fn }
func (r *fakeRemote) OnChannelUpdate(fn func(before, after *discordgo.Channel)) { r.onUpdate = fn }

func lookupHistory(t *testing.T, st *memstore.Store, channelID uint64) (*history.History, error) {
	t.Helper()
	var out *history.History
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.LookupHistory(ctx, channelID)
		return err
	})
	return out, err
}

func seedCursor(t *testing.T, st *memstore.Store, table store.CursorTable, source, cursor uint64) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertCursor(ctx, table, source, 0); err != nil {
			return err
		}
		return tx.UpdateCursor(ctx, table, source, cursor)
	}))
}
