package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/ws"
)

func newCallFixture(t *testing.T) (*CallService, *fakeEmitter) {
	t.Helper()
	log := newTestLogger(t)
	emitter := &fakeEmitter{}
	return NewCallService(ws.NewHub(log), emitter, log), emitter
}

func TestInviteRingsEachTarget(t *testing.T) {
	calls, emitter := newCallFixture(t)
	ctx := context.Background()

	err := calls.Invite(ctx, "alice", &model.CallInvite{
		CallID:         "call-1",
		ConversationID: "conv-1",
		TargetIDs:      []string{"bob", "carol"},
		Mode:           model.CallVideo,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	for _, target := range []string{"bob", "carol"} {
		e, ok := emitter.last(ws.UserRoom(target), model.EventCallRinging)
		if !ok {
			t.Fatalf("%s never rang", target)
		}
		ev := e.Data.(model.CallStateEvent)
		if ev.CallID != "call-1" || ev.FromID != "alice" || ev.Mode != model.CallVideo {
			t.Fatalf("%s ringing payload = %+v", target, ev)
		}
	}
}

func TestInviteValidation(t *testing.T) {
	calls, _ := newCallFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		inv  model.CallInvite
	}{
		{"missing call id", model.CallInvite{TargetIDs: []string{"bob"}, Mode: model.CallAudio}},
		{"no targets", model.CallInvite{CallID: "c", Mode: model.CallAudio}},
		{"bad mode", model.CallInvite{CallID: "c", TargetIDs: []string{"bob"}, Mode: "hologram"}},
	}
	for _, tc := range cases {
		if err := calls.Invite(ctx, "alice", &tc.inv); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("%s: err = %v, want ErrInvalidArgument", tc.name, err)
		}
	}
}

func TestAcceptRoutesToInitiator(t *testing.T) {
	calls, emitter := newCallFixture(t)
	ctx := context.Background()

	if err := calls.Invite(ctx, "alice", &model.CallInvite{
		CallID:    "call-1",
		TargetIDs: []string{"bob"},
		Mode:      model.CallAudio,
	}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	emitter.reset()

	calls.Accept(ctx, "bob", &model.CallAnswer{CallID: "call-1"})

	e, ok := emitter.last(ws.UserRoom("alice"), model.EventCallAccepted)
	if !ok {
		t.Fatal("initiator never saw the accept")
	}
	if ev := e.Data.(model.CallStateEvent); ev.FromID != "bob" {
		t.Fatalf("accept from = %q, want bob", ev.FromID)
	}
}

func TestDeclineEndsSession(t *testing.T) {
	calls, emitter := newCallFixture(t)
	ctx := context.Background()

	if err := calls.Invite(ctx, "alice", &model.CallInvite{
		CallID:    "call-1",
		TargetIDs: []string{"bob"},
		Mode:      model.CallAudio,
	}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	calls.Decline(ctx, "bob", &model.CallAnswer{CallID: "call-1"})

	if _, ok := emitter.last(ws.UserRoom("alice"), model.EventCallDeclined); !ok {
		t.Fatal("initiator never saw the decline")
	}

	// The session is gone; a late accept without a peer hint goes nowhere.
	emitter.reset()
	calls.Accept(ctx, "bob", &model.CallAnswer{CallID: "call-1"})
	if len(emitter.emissions) != 0 {
		t.Fatalf("dead call produced %d emissions, want 0", len(emitter.emissions))
	}
}

func TestCancelNotifiesAllTargets(t *testing.T) {
	calls, emitter := newCallFixture(t)
	ctx := context.Background()

	if err := calls.Invite(ctx, "alice", &model.CallInvite{
		CallID:    "call-1",
		TargetIDs: []string{"bob", "carol"},
		Mode:      model.CallVideo,
	}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	emitter.reset()

	calls.Cancel(ctx, "alice", &model.CallAnswer{CallID: "call-1"})

	for _, target := range []string{"bob", "carol"} {
		if _, ok := emitter.last(ws.UserRoom(target), model.EventCallCanceled); !ok {
			t.Fatalf("%s never saw the cancel", target)
		}
	}
}

func TestDeadCallFallsBackToPeerHint(t *testing.T) {
	calls, emitter := newCallFixture(t)
	ctx := context.Background()

	// Late event after a restart: no session, but the client names the peer.
	calls.Decline(ctx, "bob", &model.CallAnswer{CallID: "forgotten", PeerID: "alice"})

	if _, ok := emitter.last(ws.UserRoom("alice"), model.EventCallDeclined); !ok {
		t.Fatal("peer hint fallback never delivered")
	}
}

func TestCompletedCallSessionEvicted(t *testing.T) {
	log := newTestLogger(t)
	emitter := &fakeEmitter{}
	hub := ws.NewHub(log)
	calls := NewCallService(hub, emitter, log)
	ctx := context.Background()

	if err := calls.Invite(ctx, "alice", &model.CallInvite{
		CallID:    "call-1",
		TargetIDs: []string{"bob"},
		Mode:      model.CallAudio,
	}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	calls.Accept(ctx, "bob", &model.CallAnswer{CallID: "call-1"})

	alice := ws.NewClient(hub, nil, "conn-a", "alice", log)
	bob := ws.NewClient(hub, nil, "conn-b", "bob", log)
	hub.Register(alice)
	hub.Register(bob)
	calls.JoinMediaRoom(alice, "call-1")
	calls.JoinMediaRoom(bob, "call-1")

	// One peer still in the room keeps the session routable.
	calls.LeaveMediaRoom(alice, "call-1")
	emitter.reset()
	calls.Accept(ctx, "bob", &model.CallAnswer{CallID: "call-1"})
	if _, ok := emitter.last(ws.UserRoom("alice"), model.EventCallAccepted); !ok {
		t.Fatal("session evicted while the room still had a peer")
	}

	// The last departure ends it; a late cancel without a peer hint goes
	// nowhere.
	calls.LeaveMediaRoom(bob, "call-1")
	emitter.reset()
	calls.Cancel(ctx, "alice", &model.CallAnswer{CallID: "call-1"})
	if len(emitter.emissions) != 0 {
		t.Fatalf("evicted call produced %d emissions, want 0", len(emitter.emissions))
	}
}

func TestRelayForwardsOpaquePayload(t *testing.T) {
	calls, emitter := newCallFixture(t)

	calls.Relay(model.EventRTCOffer, "alice", &model.RTCSignal{
		CallID: "call-1",
		ToID:   "bob",
		Body:   `{"sdp":"v=0..."}`,
	})

	e, ok := emitter.last(ws.UserRoom("bob"), model.EventRTCOffer)
	if !ok {
		t.Fatal("signal never relayed")
	}
	sig := e.Data.(*model.RTCSignal)
	if sig.FromID != "alice" || sig.Body != `{"sdp":"v=0..."}` {
		t.Fatalf("relayed signal = %+v", sig)
	}

	// No target, no delivery.
	emitter.reset()
	calls.Relay(model.EventRTCICE, "alice", &model.RTCSignal{CallID: "call-1"})
	if len(emitter.emissions) != 0 {
		t.Fatalf("targetless signal produced %d emissions, want 0", len(emitter.emissions))
	}
}
