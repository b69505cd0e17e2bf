package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/abdalla-omar/perkmanager/pkg/api/client"
)

// Backend event types that carry a fresh vote snapshot.
const (
	eventPerkUpvoted   = "PerkUpvoted"
	eventPerkDownvoted = "PerkDownvoted"
)

type voteEvent struct {
	Type      string `json:"type"`
	PerkID    int64  `json:"perkId"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
	NetScore  int    `json:"netScore"`
}

// RenderFunc renders the vote fragment of a perk snapshot.
type RenderFunc func(client.Perk) (string, error)

// Relay republishes backend vote events from a Redis channel as patches.
type Relay struct {
	redis   redis.UniversalClient
	channel string
	hub     *Hub
	render  RenderFunc
	logger  *slog.Logger
}

// NewRelay constructs a relay on channel.
func NewRelay(rdb redis.UniversalClient, channel string, hub *Hub, render RenderFunc, logger *slog.Logger) *Relay {
	return &Relay{redis: rdb, channel: channel, hub: hub, render: render, logger: logger}
}

// Run subscribes and relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.redis.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relaying backend vote events", "channel", r.channel)
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := r.Handle([]byte(msg.Payload)); err != nil {
				r.logger.Warn("relay event dropped", "error", err)
			}
		}
	}
}

// Handle turns one event payload into a patch. Events other than votes are ignored.
func (r *Relay) Handle(payload []byte) error {
	var ev voteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Type != eventPerkUpvoted && ev.Type != eventPerkDownvoted {
		return nil
	}
	if ev.PerkID <= 0 || ev.NetScore != ev.Upvotes-ev.Downvotes {
		return fmt.Errorf("perk %d: %w", ev.PerkID, client.ErrInconsistentPerk)
	}
	html, err := r.render(client.Perk{
		ID:        ev.PerkID,
		Upvotes:   ev.Upvotes,
		Downvotes: ev.Downvotes,
		NetScore:  ev.NetScore,
	})
	if err != nil {
		return fmt.Errorf("render perk %d: %w", ev.PerkID, err)
	}
	return r.hub.PublishPatch(Patch{PerkID: ev.PerkID, HTML: html})
}
