package interject

import "context"

// Gateway abstracts the chat platform session (Discord in production,
// fakes in tests).
type Gateway interface {
	// Open connects the session and starts delivering events.
	Open(ctx context.Context) error
	// Close tears the session down; Events is closed afterwards.
	Close() error
	// Self returns the bot's own user id. Valid once the first ready
	// event has been delivered.
	Self() Snowflake
	// TextChannels lists the text channels of a server.
	TextChannels(ctx context.Context, serverID Snowflake) ([]Snowflake, error)
	// FetchMessagesBefore returns up to limit messages with id strictly
	// below before, newest first. This is the backward history pager.
	FetchMessagesBefore(ctx context.Context, channelID, before Snowflake, limit int) ([]MessageRecord, error)
	// Send posts a message to a channel.
	Send(ctx context.Context, channelID Snowflake, content string) error
	// Events returns the stream of ready and message-create events.
	Events() <-chan Event
}
