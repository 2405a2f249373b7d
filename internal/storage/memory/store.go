// Package memory provides an in-process transactional store for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/discord-event-crawler/internal/history"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

type emojiKey struct {
	id      uint64
	unicode string
}

type reactionKey struct {
	messageID uint64
	emoji     emojiKey
	userID    uint64
}

type historyRow struct {
	first  *uint64
	ranges []history.Range
}

type mentionKey struct {
	mentionedID uint64
	kind        store.MentionType
	messageID   uint64
}

type state struct {
	cursors   map[store.CursorTable]map[uint64]uint64
	messages  map[uint64]store.Message
	mentions  map[mentionKey]store.Mention
	guilds    map[uint64]store.Guild
	channels  map[uint64]store.Channel
	users     map[uint64]store.User
	emojis    map[emojiKey]store.Emoji
	reactions map[reactionKey]store.Reaction
	audit     map[uint64]store.AuditLogEntry
	histories map[uint64]historyRow
}

func newState() *state {
	return &state{
		cursors: map[store.CursorTable]map[uint64]uint64{
			store.ChannelCrawl:  {},
			store.AuditLogCrawl: {},
		},
		messages:  make(map[uint64]store.Message),
		mentions:  make(map[mentionKey]store.Mention),
		guilds:    make(map[uint64]store.Guild),
		channels:  make(map[uint64]store.Channel),
		users:     make(map[uint64]store.User),
		emojis:    make(map[emojiKey]store.Emoji),
		reactions: make(map[reactionKey]store.Reaction),
		audit:     make(map[uint64]store.AuditLogEntry),
		histories: make(map[uint64]historyRow),
	}
}

// Store keeps every table in maps. Transactions run one at a time against the
// live maps and record an undo entry per write, so a failed transaction only
// costs as much as the rows it touched.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against the live state and reverts its writes if fn returns
// an error or panics.
func (s *Store) WithTx(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	t := &tx{st: s.state}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()
	if err := fn(ctx, t); err != nil {
		return err
	}
	committed = true
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Cursor returns the committed cursor for source.
func (s *Store) Cursor(table store.CursorTable, source uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.cursors[table][source]
	return v, ok
}

// Messages returns committed messages ordered by ID.
func (s *Store) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, 0, len(s.state.messages))
	for _, m := range s.state.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reactions returns committed reactions in no particular order.
func (s *Store) Reactions() []store.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Reaction, 0, len(s.state.reactions))
	for _, r := range s.state.reactions {
		out = append(out, r)
	}
	return out
}

// Emojis returns committed emojis in no particular order.
func (s *Store) Emojis() []store.Emoji {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Emoji, 0, len(s.state.emojis))
	for _, e := range s.state.emojis {
		out = append(out, e)
	}
	return out
}

// AuditLogEntries returns committed audit-log entries ordered by ID.
func (s *Store) AuditLogEntries() []store.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AuditLogEntry, 0, len(s.state.audit))
	for _, e := range s.state.audit {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Guilds returns committed guilds ordered by ID.
func (s *Store) Guilds() []store.Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Guild, 0, len(s.state.guilds))
	for _, g := range s.state.guilds {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channels returns committed channels ordered by ID.
func (s *Store) Channels() []store.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Channel, 0, len(s.state.channels))
	for _, c := range s.state.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Users returns committed users ordered by ID.
func (s *Store) Users() []store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.User, 0, len(s.state.users))
	for _, u := range s.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mentions returns committed mentions in no particular order.
func (s *Store) Mentions() []store.Mention {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Mention, 0, len(s.state.mentions))
	for _, m := range s.state.mentions {
		out = append(out, m)
	}
	return out
}

type tx struct {
	st   *state
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func setRow[K comparable, V any](t *tx, rows map[K]V, k K, v V) {
	prev, existed := rows[k]
	t.undo = append(t.undo, func() {
		if existed {
			rows[k] = prev
		} else {
			delete(rows, k)
		}
	})
	rows[k] = v
}

// insertRow writes v only when k is absent.
func insertRow[K comparable, V any](t *tx, rows map[K]V, k K, v V) {
	if _, exists := rows[k]; !exists {
		setRow(t, rows, k, v)
	}
}

func deleteRow[K comparable, V any](t *tx, rows map[K]V, k K) {
	prev, existed := rows[k]
	if !existed {
		return
	}
	t.undo = append(t.undo, func() { rows[k] = prev })
	delete(rows, k)
}

func (t *tx) LookupCursor(_ context.Context, table store.CursorTable, source uint64) (uint64, error) {
	rows, ok := t.st.cursors[table]
	if !ok {
		return 0, fmt.Errorf("lookup cursor: unknown table %q", table)
	}
	v, ok := rows[source]
	if !ok {
		return 0, store.ErrNotFound
	}
	return v, nil
}

func (t *tx) InsertCursor(_ context.Context, table store.CursorTable, source, cursor uint64) error {
	rows, ok := t.st.cursors[table]
	if !ok {
		return fmt.Errorf("insert cursor: unknown table %q", table)
	}
	insertRow(t, rows, source, cursor)
	return nil
}

func (t *tx) UpdateCursor(_ context.Context, table store.CursorTable, source, cursor uint64) error {
	rows, ok := t.st.cursors[table]
	if !ok {
		return fmt.Errorf("update cursor: unknown table %q", table)
	}
	prev, exists := rows[source]
	if !exists {
		return store.ErrNotFound
	}
	setRow(t, rows, source, max(prev, cursor))
	return nil
}

func (t *tx) DeleteCursor(_ context.Context, table store.CursorTable, source uint64) error {
	rows, ok := t.st.cursors[table]
	if !ok {
		return fmt.Errorf("delete cursor: unknown table %q", table)
	}
	deleteRow(t, rows, source)
	return nil
}

func (t *tx) InsertMessage(_ context.Context, msg store.Message) error {
	insertRow(t, t.st.messages, msg.ID, msg)
	return nil
}

func (t *tx) InsertMention(_ context.Context, m store.Mention) error {
	insertRow(t, t.st.mentions, mentionKey{mentionedID: m.MentionedID, kind: m.Type, messageID: m.MessageID}, m)
	return nil
}

func (t *tx) UpsertGuild(_ context.Context, guild store.Guild) error {
	setRow(t, t.st.guilds, guild.ID, guild)
	return nil
}

func (t *tx) UpsertChannel(_ context.Context, channel store.Channel) error {
	setRow(t, t.st.channels, channel.ID, channel)
	return nil
}

func (t *tx) UpsertUser(_ context.Context, user store.User) error {
	setRow(t, t.st.users, user.ID, user)
	return nil
}

func (t *tx) UpsertEmoji(_ context.Context, emoji store.Emoji) error {
	setRow(t, t.st.emojis, emojiKey{id: emoji.ID, unicode: emoji.Unicode}, emoji)
	return nil
}

func (t *tx) InsertReaction(_ context.Context, r store.Reaction) error {
	key := reactionKey{
		messageID: r.MessageID,
		emoji:     emojiKey{id: r.EmojiID, unicode: r.EmojiUnicode},
		userID:    r.UserID,
	}
	insertRow(t, t.st.reactions, key, r)
	return nil
}

func (t *tx) InsertAuditLogEntry(_ context.Context, entry store.AuditLogEntry) error {
	insertRow(t, t.st.audit, entry.ID, entry)
	return nil
}

func (t *tx) LookupHistory(_ context.Context, channelID uint64) (*history.History, error) {
	row, ok := t.st.histories[channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return history.New(row.first, row.ranges...), nil
}

func (t *tx) SaveHistory(_ context.Context, channelID uint64, h *history.History) error {
	var first *uint64
	if h.First != nil {
		v := *h.First
		first = &v
	}
	setRow(t, t.st.histories, channelID, historyRow{first: first, ranges: h.Ranges()})
	return nil
}

func (t *tx) DeleteHistory(_ context.Context, channelID uint64) error {
	deleteRow(t, t.st.histories, channelID)
	return nil
}
