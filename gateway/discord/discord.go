// Package discord adapts a discordgo session to the Gateway interface:
// live events in, history pages and outbound messages over the REST API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"interject"
)

// eventBuffer sizes the delivery channel. Bursts beyond it are dropped with
// a warning rather than blocking the discordgo dispatch goroutine.
const eventBuffer = 256

// Gateway is a Discord chat session.
type Gateway struct {
	session *discordgo.Session
	logger  *slog.Logger

	self   atomic.Uint64
	events chan interject.Event

	// mu guards down: deliver holds the read side across its send so Close
	// cannot close the event channel under an in-flight send.
	mu   sync.RWMutex
	down bool
	once sync.Once
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets a structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway over a bot token. The session subscribes to guild,
// guild-message, and message-content intents; nothing else is needed to
// archive and reply.
func New(token string, opts ...Option) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	g := &Gateway{
		session: session,
		logger:  nopLogger,
		events:  make(chan interject.Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(g)
	}
	session.AddHandler(g.onReady)
	session.AddHandler(g.onMessageCreate)
	return g, nil
}

// Open connects the websocket session and starts delivering events.
func (g *Gateway) Open(ctx context.Context) error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

// Close tears the session down and closes the event stream. Taking the
// write lock after the session stops waits out every in-flight deliver, so
// the channel closes with no sender active and none able to start.
func (g *Gateway) Close() error {
	var err error
	g.once.Do(func() {
		err = g.session.Close()
		g.mu.Lock()
		g.down = true
		g.mu.Unlock()
		close(g.events)
	})
	return err
}

// Self returns the bot's own user id. Valid once the first ready event has
// been delivered.
func (g *Gateway) Self() interject.Snowflake {
	return interject.Snowflake(g.self.Load())
}

// Events returns the stream of ready and message-create events.
func (g *Gateway) Events() <-chan interject.Event {
	return g.events
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		if id, err := interject.ParseSnowflake(r.User.ID); err == nil {
			g.self.Store(uint64(id))
		}
	}
	servers := make([]interject.Snowflake, 0, len(r.Guilds))
	for _, guild := range r.Guilds {
		id, err := interject.ParseSnowflake(guild.ID)
		if err != nil {
			g.logger.Warn("unparseable guild id skipped", "guild", guild.ID)
			continue
		}
		servers = append(servers, id)
	}
	g.deliver(interject.Event{Ready: servers})
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}
	serverID, err := interject.ParseSnowflake(m.GuildID)
	if err != nil {
		return
	}
	rec, err := toRecord(m.Message)
	if err != nil {
		g.logger.Warn("unparseable message skipped", "message", m.ID, "error", err)
		return
	}
	g.deliver(interject.Event{Message: &interject.Incoming{ServerID: serverID, MessageRecord: rec}})
}

// deliver hands an event to the consumer without ever blocking the
// discordgo dispatch goroutine. After Close the event is dropped.
func (g *Gateway) deliver(ev interject.Event) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.down {
		return
	}
	select {
	case g.events <- ev:
	default:
		g.logger.Warn("event buffer full, event dropped")
	}
}

// toRecord maps a Discord message to an archive record. Display name falls
// back to the account name when no global name is set.
func toRecord(m *discordgo.Message) (interject.MessageRecord, error) {
	id, err := interject.ParseSnowflake(m.ID)
	if err != nil {
		return interject.MessageRecord{}, fmt.Errorf("message id: %w", err)
	}
	channelID, err := interject.ParseSnowflake(m.ChannelID)
	if err != nil {
		return interject.MessageRecord{}, fmt.Errorf("channel id: %w", err)
	}
	authorID, err := interject.ParseSnowflake(m.Author.ID)
	if err != nil {
		return interject.MessageRecord{}, fmt.Errorf("author id: %w", err)
	}
	global := m.Author.GlobalName
	if global == "" {
		global = m.Author.Username
	}
	rec := interject.MessageRecord{
		ID:               id,
		ChannelID:        channelID,
		AuthorUserName:   m.Author.Username,
		AuthorGlobalName: global,
		AuthorID:         authorID,
		Content:          m.Content,
	}
	rec.Stamp()
	return rec, nil
}

// TextChannels lists the text channels of a server.
func (g *Gateway) TextChannels(ctx context.Context, serverID interject.Snowflake) ([]interject.Snowflake, error) {
	channels, err := g.session.GuildChannels(serverID.String(), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w", serverID, err)
	}
	var ids []interject.Snowflake
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		id, err := interject.ParseSnowflake(ch.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FetchMessagesBefore returns up to limit messages with id strictly below
// before, newest first.
func (g *Gateway) FetchMessagesBefore(ctx context.Context, channelID, before interject.Snowflake, limit int) ([]interject.MessageRecord, error) {
	msgs, err := g.session.ChannelMessages(channelID.String(), limit, before.String(), "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", channelID, err)
	}
	records := make([]interject.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		if m.Author == nil {
			continue
		}
		rec, err := toRecord(m)
		if err != nil {
			g.logger.Warn("unparseable history message skipped", "message", m.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Send posts a message to a channel.
func (g *Gateway) Send(ctx context.Context, channelID interject.Snowflake, content string) error {
	if _, err := g.session.ChannelMessageSend(channelID.String(), content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to %s: %w", channelID, err)
	}
	return nil
}

// Compile-time interface check.
var _ interject.Gateway = (*Gateway)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
