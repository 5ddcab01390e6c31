package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"interject"
)

func TestToRecord(t *testing.T) {
	m := &discordgo.Message{
		ID:        "175928847299117063",
		ChannelID: "81384788765712384",
		Content:   "lunch anyone?",
		Author: &discordgo.User{
			ID:         "80351110224678912",
			Username:   "nelly",
			GlobalName: "Nelly",
		},
	}

	rec, err := toRecord(m)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != 175928847299117063 || rec.ChannelID != 81384788765712384 || rec.AuthorID != 80351110224678912 {
		t.Errorf("ids = %+v", rec)
	}
	if rec.AuthorUserName != "nelly" || rec.AuthorGlobalName != "Nelly" {
		t.Errorf("names = %q %q", rec.AuthorUserName, rec.AuthorGlobalName)
	}
	if rec.Content != "lunch anyone?" {
		t.Errorf("content = %q", rec.Content)
	}
	// Derived fields come from the snowflake, not the wire timestamp.
	if rec.TimestampUnixMs != rec.ID.UnixMs() || rec.TimestampFriendly != rec.ID.Friendly() {
		t.Errorf("timestamps = %d %q", rec.TimestampUnixMs, rec.TimestampFriendly)
	}
}

func TestToRecordGlobalNameFallback(t *testing.T) {
	m := &discordgo.Message{
		ID:        "100",
		ChannelID: "200",
		Author:    &discordgo.User{ID: "300", Username: "nelly"},
	}
	rec, err := toRecord(m)
	if err != nil {
		t.Fatal(err)
	}
	if rec.AuthorGlobalName != "nelly" {
		t.Errorf("AuthorGlobalName = %q, want username fallback", rec.AuthorGlobalName)
	}
}

func TestToRecordBadIDs(t *testing.T) {
	m := &discordgo.Message{
		ID:        "not-a-snowflake",
		ChannelID: "200",
		Author:    &discordgo.User{ID: "300"},
	}
	if _, err := toRecord(m); err == nil {
		t.Error("want parse error")
	}
}

func TestDeliverAfterCloseDropsEvent(t *testing.T) {
	g, err := New("token")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}

	// A handler still draining out of discordgo after Close must drop its
	// event, not send on the closed stream.
	g.deliver(interject.Event{Ready: []interject.Snowflake{1}})

	if _, ok := <-g.Events(); ok {
		t.Error("event delivered after close")
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDeliverDropsOnFullBuffer(t *testing.T) {
	g, err := New("token")
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	for i := 0; i < eventBuffer+10; i++ {
		g.deliver(interject.Event{Ready: []interject.Snowflake{1}})
	}

	delivered := 0
	for range len(g.events) {
		<-g.Events()
		delivered++
	}
	if delivered != eventBuffer {
		t.Errorf("delivered = %d, want %d", delivered, eventBuffer)
	}
}

var _ interject.Gateway = (*Gateway)(nil)
