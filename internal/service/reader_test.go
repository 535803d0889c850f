package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/ws"
)

func TestAdvanceReadBumpsAndReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.newGroup(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		if _, err := f.delivery.Send(ctx, "alice", conv.ID, model.MessageText, "hi"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	f.emitter.reset()

	res, err := f.reader.AdvanceRead(ctx, "bob", conv.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Bumped || res.LastReadSeq != 3 {
		t.Fatalf("result = %+v, want bumped to 3", res)
	}

	// Reader's own badge cleared.
	badge, ok := f.emitter.last(ws.UserRoom("bob"), model.EventBadgeUpdate)
	if !ok {
		t.Fatal("no badge update for the reader")
	}
	if b := badge.Data.(model.BadgeUpdateEvent); b.Unread != 0 {
		t.Fatalf("reader badge unread = %d, want 0", b.Unread)
	}

	// One receipt row for the other member.
	n, err := f.store.CountNotifications(ctx, "alice", "bob", conv.ID, model.NotificationMessageRead)
	if err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if n != 1 {
		t.Fatalf("receipt rows = %d, want 1", n)
	}
	if got := f.emitter.count(ws.UserRoom("alice"), model.EventNotificationNew); got != 1 {
		t.Fatalf("receipt alerts = %d, want 1", got)
	}
}

func TestAdvanceReadReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.newGroup(t, "alice", "bob")

	if _, err := f.delivery.Send(ctx, "alice", conv.ID, model.MessageText, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := f.reader.AdvanceRead(ctx, "bob", conv.ID); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	f.emitter.reset()

	res, err := f.reader.AdvanceRead(ctx, "bob", conv.ID)
	if err != nil {
		t.Fatalf("replay advance: %v", err)
	}
	if res.Bumped {
		t.Fatal("replay advance should not bump")
	}
	if len(f.emitter.emissions) != 0 {
		t.Fatalf("replay emitted %d events, want 0", len(f.emitter.emissions))
	}

	// Still exactly one receipt row.
	n, err := f.store.CountNotifications(ctx, "alice", "bob", conv.ID, model.NotificationMessageRead)
	if err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if n != 1 {
		t.Fatalf("receipt rows = %d, want 1", n)
	}
}

func TestAdvanceReadEmptyConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.newGroup(t, "alice", "bob")

	res, err := f.reader.AdvanceRead(context.Background(), "bob", conv.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Bumped {
		t.Fatal("empty conversation should not bump")
	}
}

func TestAdvanceReadRequiresMembership(t *testing.T) {
	f := newFixture(t)
	conv := f.newGroup(t, "alice", "bob")

	_, err := f.reader.AdvanceRead(context.Background(), "mallory", conv.ID)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestMarkAllReadEmitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.newGroup(t, "alice", "bob")

	for i := 0; i < 2; i++ {
		if _, err := f.delivery.Send(ctx, "alice", conv.ID, model.MessageText, "hi"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	f.emitter.reset()

	n, err := f.reader.MarkAllRead(ctx, "bob")
	if err != nil {
		t.Fatalf("mark all: %v", err)
	}
	if n != 2 {
		t.Fatalf("marked = %d, want 2", n)
	}
	if got := f.emitter.count(ws.UserRoom("bob"), model.EventMarkAllRead); got != 1 {
		t.Fatalf("mark-all events = %d, want 1", got)
	}

	// Nothing left unread, no second event.
	f.emitter.reset()
	n, err = f.reader.MarkAllRead(ctx, "bob")
	if err != nil {
		t.Fatalf("mark all again: %v", err)
	}
	if n != 0 {
		t.Fatalf("marked = %d, want 0", n)
	}
	if len(f.emitter.emissions) != 0 {
		t.Fatalf("empty mark-all emitted %d events, want 0", len(f.emitter.emissions))
	}
}
