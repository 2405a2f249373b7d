package postgres

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channel_crawl (
	channel_id      BIGINT PRIMARY KEY,
	last_message_id BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS audit_log_crawl (
	guild_id            BIGINT PRIMARY KEY,
	last_audit_entry_id BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	message_id            BIGINT PRIMARY KEY,
	channel_id            BIGINT NOT NULL,
	guild_id              BIGINT NOT NULL,
	author_id             BIGINT NOT NULL,
	message_type          SMALLINT NOT NULL,
	content               TEXT NOT NULL,
	embeds                JSONB,
	attachments           SMALLINT NOT NULL DEFAULT 0,
	webhook_id            BIGINT,
	referenced_message_id BIGINT,
	mentions              INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL,
	edited_at             TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages (channel_id, message_id)`,
	`CREATE TABLE IF NOT EXISTS mentions (
	mentioned_id BIGINT NOT NULL,
	mention_type SMALLINT NOT NULL,
	message_id   BIGINT NOT NULL,
	channel_id   BIGINT NOT NULL,
	guild_id     BIGINT NOT NULL,
	PRIMARY KEY (mentioned_id, mention_type, message_id)
)`,
	`CREATE TABLE IF NOT EXISTS guilds (
	guild_id BIGINT PRIMARY KEY,
	name     TEXT NOT NULL,
	icon     TEXT NOT NULL DEFAULT '',
	owner_id BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS channels (
	channel_id BIGINT PRIMARY KEY,
	guild_id   BIGINT NOT NULL,
	name       TEXT NOT NULL,
	topic      TEXT NOT NULL DEFAULT '',
	position   INTEGER NOT NULL DEFAULT 0,
	is_nsfw    BOOLEAN NOT NULL DEFAULT FALSE,
	parent_id  BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS users (
	user_id       BIGINT PRIMARY KEY,
	name          TEXT NOT NULL,
	discriminator TEXT NOT NULL DEFAULT '',
	avatar        TEXT NOT NULL DEFAULT '',
	is_bot        BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS emojis (
	emoji_id      BIGINT NOT NULL DEFAULT 0,
	emoji_unicode TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	is_custom     BOOLEAN NOT NULL,
	is_managed    BOOLEAN NOT NULL DEFAULT FALSE,
	is_animated   BOOLEAN NOT NULL DEFAULT FALSE,
	guild_id      BIGINT,
	roles         BIGINT[] NOT NULL DEFAULT '{}',
	UNIQUE (emoji_id, emoji_unicode)
)`,
	`CREATE TABLE IF NOT EXISTS reactions (
	message_id    BIGINT NOT NULL,
	emoji_id      BIGINT NOT NULL DEFAULT 0,
	emoji_unicode TEXT NOT NULL DEFAULT '',
	user_id       BIGINT NOT NULL,
	channel_id    BIGINT NOT NULL,
	guild_id      BIGINT NOT NULL,
	UNIQUE (message_id, emoji_id, emoji_unicode, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
	audit_entry_id BIGINT PRIMARY KEY,
	guild_id       BIGINT NOT NULL,
	action         INTEGER NOT NULL,
	user_id        BIGINT NOT NULL,
	target_id      BIGINT NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL DEFAULT '',
	changes        JSONB,
	options        JSONB
)`,
	`CREATE TABLE IF NOT EXISTS channel_history (
	channel_id       BIGINT PRIMARY KEY,
	first_message_id BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS channel_history_ranges (
	channel_id       BIGINT NOT NULL REFERENCES channel_history (channel_id) ON DELETE CASCADE,
	start_message_id BIGINT NOT NULL,
	end_message_id   BIGINT NOT NULL,
	PRIMARY KEY (channel_id, start_message_id)
)`,
}
