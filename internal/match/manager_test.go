package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerhall/wager-server/internal/persistence"
)

func TestPayout(t *testing.T) {
	cases := []struct {
		wager, payout, fee int
	}{
		{wager: 100, payout: 180, fee: 20},
		{wager: 10, payout: 18, fee: 2},
		{wager: 15, payout: 27, fee: 3},
		{wager: 33, payout: 60, fee: 6},
		{wager: 1000, payout: 1800, fee: 200},
	}
	for _, tc := range cases {
		payout, fee := Payout(tc.wager, DefaultFeeBasisPoints)
		assert.Equal(t, tc.payout, payout, "payout for wager %d", tc.wager)
		assert.Equal(t, tc.fee, fee, "fee for wager %d", tc.wager)
		assert.Equal(t, 2*tc.wager, payout+fee)
	}
}

func TestCheckmateEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.identify(t, "alice", "Alice")
	h.identify(t, "bob", "Bob")

	created, err := h.manager.CreateSession(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, created.Status)
	assert.Equal(t, 900, h.balance(t, "alice"))

	started, err := h.manager.JoinSession(ctx, "bob", created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, started.Status)
	assert.Equal(t, 900, h.balance(t, "bob"))
	assert.Equal(t, "Alice", started.WhiteName)
	assert.Equal(t, "Bob", started.BlackName)

	h.move(t, "alice", created.ID, "e4")
	h.move(t, "bob", created.ID, "e5")
	h.move(t, "alice", created.ID, "mate")

	assert.Equal(t, 1080, h.balance(t, "alice"))
	assert.Equal(t, 900, h.balance(t, "bob"))

	_, live := h.manager.Session(created.ID)
	assert.False(t, live, "completed session must leave the registry")

	over := h.notifier.ofType("bob", EventSessionOver)
	require.Len(t, over, 1)
	result := over[0].Data.(SessionOver)
	assert.Equal(t, ResultCheckmate, result.Result)
	assert.Equal(t, "Alice", result.Winner)
	assert.Equal(t, 180, result.Payout)
	assert.Equal(t, 20, result.Fee)
	assert.Equal(t, 1080, result.WhiteBalance)
	assert.Equal(t, 900, result.BlackBalance)

	rec, ok := h.persister.lastQueued()
	require.True(t, ok)
	assert.Equal(t, "COMPLETED", rec.Status)
	assert.Equal(t, "Alice", rec.WinnerName)
	assert.Equal(t, 20, rec.PlatformFee)
	assert.Len(t, rec.Moves, 3)
	assert.NotNil(t, rec.CompletedAt)
}

func TestBlackCanDeliverMate(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 50)

	h.move(t, "alice", id, "f3")
	h.move(t, "bob", id, "mate")

	assert.Equal(t, 950, h.balance(t, "alice"))
	assert.Equal(t, 1040, h.balance(t, "bob"))
}

func TestDrawRefundsBothSeats(t *testing.T) {
	for _, notation := range []string{"stalemate", "repetition"} {
		t.Run(notation, func(t *testing.T) {
			h := newHarness(t)
			id := h.startMatch(t, 100)

			h.move(t, "alice", id, "e4")
			h.move(t, "bob", id, notation)

			assert.Equal(t, 1000, h.balance(t, "alice"))
			assert.Equal(t, 1000, h.balance(t, "bob"))

			over := h.notifier.ofType("alice", EventSessionOver)
			require.Len(t, over, 1)
			result := over[0].Data.(SessionOver)
			assert.Equal(t, ResultDraw, result.Result)
			assert.Equal(t, 0, result.Fee)
			assert.Empty(t, result.Winner)

			rec, _ := h.persister.lastQueued()
			assert.Equal(t, "COMPLETED", rec.Status)
			assert.Equal(t, 0, rec.PlatformFee)
		})
	}
}

func TestBalanceConservation(t *testing.T) {
	for _, notation := range []string{"mate", "stalemate"} {
		h := newHarness(t)
		h.identify(t, "alice", "Alice")
		h.identify(t, "bob", "Bob")
		before := h.balance(t, "alice") + h.balance(t, "bob")

		snap, err := h.manager.CreateSession(context.Background(), "alice", 250)
		require.NoError(t, err)
		_, err = h.manager.JoinSession(context.Background(), "bob", snap.ID)
		require.NoError(t, err)
		h.move(t, "alice", snap.ID, notation)

		over := h.notifier.ofType("alice", EventSessionOver)
		require.Len(t, over, 1)
		fee := over[0].Data.(SessionOver).Fee

		after := h.balance(t, "alice") + h.balance(t, "bob")
		assert.Equal(t, before, after+fee, notation)
	}
}

func TestCreateRejectsWagerBelowMinimum(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")

	_, err := h.manager.CreateSession(context.Background(), "alice", 9)
	assert.ErrorIs(t, err, ErrWagerTooLow)
	assert.Equal(t, 1000, h.balance(t, "alice"))
	assert.Empty(t, h.manager.ListWaiting())
	assert.Equal(t, 0, h.manager.Registry().Len())
}

func TestCreateRequiresIdentity(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.CreateSession(context.Background(), "stranger", 100)
	assert.ErrorIs(t, err, ErrNotIdentified)
}

func TestCreateRejectsInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")

	_, err := h.manager.CreateSession(context.Background(), "alice", 1001)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1000, h.balance(t, "alice"))
	assert.Equal(t, 0, h.manager.Registry().Len())
}

func TestIdentifyRejectsBlankName(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Identify("alice", "   ")
	assert.ErrorIs(t, err, ErrInvalidName)

	balance, err := h.manager.Identify("alice", " Alice ")
	require.NoError(t, err)
	assert.Equal(t, 1000, balance)
	require.Len(t, h.notifier.ofType("alice", EventBalanceUpdated), 1)
}

func TestJoinRejectsSelfPlay(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")

	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	_, err = h.manager.JoinSession(context.Background(), "alice", snap.ID)
	assert.ErrorIs(t, err, ErrSelfJoin)
	assert.Equal(t, 900, h.balance(t, "alice"))

	live, ok := h.manager.Session(snap.ID)
	require.True(t, ok)
	assert.Equal(t, StatusWaiting, live.Status)
}

func TestJoinUnknownOrUnavailableSession(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)
	h.identify(t, "carol", "Carol")

	_, err := h.manager.JoinSession(context.Background(), "carol", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.manager.JoinSession(context.Background(), "carol", id)
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Equal(t, 1000, h.balance(t, "carol"))
}

func TestJoinRejectsInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	h.identify(t, "bob", "Bob")

	_, err := h.ledger.Adjust("bob", -950)
	require.NoError(t, err)

	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	_, err = h.manager.JoinSession(context.Background(), "bob", snap.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 50, h.balance(t, "bob"))

	live, _ := h.manager.Session(snap.ID)
	assert.Equal(t, StatusWaiting, live.Status)
}

func TestJoinNotifiesBothSeats(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)

	for _, conn := range []string{"alice", "bob"} {
		started := h.notifier.ofType(conn, EventSessionStarted)
		require.Len(t, started, 1, conn)
		payload := started[0].Data.(SessionStarted)
		assert.Equal(t, id, payload.SessionID)
		assert.Equal(t, "Alice", payload.WhiteName)
		assert.Equal(t, "Bob", payload.BlackName)
		assert.Equal(t, 100, payload.Wager)
		assert.NotEmpty(t, payload.BoardState)
	}
	assert.Equal(t, 2, h.notifier.lobbyChanges())
}

func TestMoveEnforcesTurn(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)
	h.identify(t, "carol", "Carol")

	before, _ := h.manager.Session(id)

	_, err := h.manager.SubmitMove("bob", id, Move{Notation: "e5"})
	assert.ErrorIs(t, err, ErrNotYourTurn)

	_, err = h.manager.SubmitMove("carol", id, Move{Notation: "e4"})
	assert.ErrorIs(t, err, ErrNotYourTurn)

	after, _ := h.manager.Session(id)
	assert.Equal(t, before.BoardState, after.BoardState)
	assert.Empty(t, after.Moves)

	h.move(t, "alice", id, "e4")
	_, err = h.manager.SubmitMove("alice", id, Move{Notation: "d4"})
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestIllegalMoveLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)
	before, _ := h.manager.Session(id)

	_, err := h.manager.SubmitMove("alice", id, Move{Notation: "illegal"})
	assert.ErrorIs(t, err, ErrIllegalMove)

	after, _ := h.manager.Session(id)
	assert.Equal(t, before.BoardState, after.BoardState)
	assert.Equal(t, 900, h.balance(t, "alice"))
	assert.Empty(t, h.notifier.ofType("alice", EventMoveApplied))
}

func TestMoveOnWaitingOrUnknownSession(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	_, err = h.manager.SubmitMove("alice", snap.ID, Move{Notation: "e4"})
	assert.ErrorIs(t, err, ErrSessionNotActive)

	_, err = h.manager.SubmitMove("alice", "missing", Move{Notation: "e4"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMovePersistsHistory(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)

	h.move(t, "alice", id, "e4")
	h.move(t, "bob", id, "e5")

	rec, ok := h.persister.lastQueued()
	require.True(t, ok)
	assert.Equal(t, "ACTIVE", rec.Status)
	require.Len(t, rec.Moves, 2)
	assert.Equal(t, "e4", rec.Moves[0].SAN)
	assert.Equal(t, "b", rec.Moves[1].Color)

	applied := h.notifier.ofType("bob", EventMoveApplied)
	require.Len(t, applied, 2)
	assert.Equal(t, "w", applied[1].Data.(MoveApplied).Turn)
}

func TestDisconnectWhileWaitingRefundsCreator(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")

	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, 900, h.balance(t, "alice"))

	h.manager.Disconnect("alice")

	assert.Equal(t, 1000, h.ledger.finalBalance("alice"))
	_, live := h.manager.Session(snap.ID)
	assert.False(t, live)
	assert.Empty(t, h.notifier.ofType("alice", EventSessionOver))

	rec, ok := h.persister.lastQueued()
	require.True(t, ok)
	assert.Equal(t, "ABANDONED", rec.Status)
	assert.NotNil(t, rec.CompletedAt)
}

func TestDisconnectWhileActiveRefundsBothSeats(t *testing.T) {
	for _, leaver := range []string{"alice", "bob"} {
		t.Run(leaver, func(t *testing.T) {
			h := newHarness(t)
			id := h.startMatch(t, 100)
			h.move(t, "alice", id, "e4")

			stayer := "bob"
			if leaver == "bob" {
				stayer = "alice"
			}

			h.manager.Disconnect(leaver)

			assert.Equal(t, 1000, h.ledger.finalBalance(leaver))
			assert.Equal(t, 1000, h.balance(t, stayer))

			notices := h.notifier.ofType(stayer, EventOpponentDisconnected)
			require.Len(t, notices, 1)
			assert.Equal(t, opponentLeftMessage, notices[0].Data.(OpponentDisconnected).Message)
			assert.Empty(t, h.notifier.ofType(leaver, EventOpponentDisconnected))

			_, live := h.manager.Session(id)
			assert.False(t, live)

			rec, _ := h.persister.lastQueued()
			assert.Equal(t, "ABANDONED", rec.Status)
		})
	}
}

func TestDisconnectWithoutSessions(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")

	h.manager.Disconnect("alice")
	h.manager.Disconnect("alice")

	assert.False(t, h.ledger.Known("alice"))
	assert.Zero(t, h.notifier.lobbyChanges())
}

func TestSettlementAppliesOnce(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)

	h.move(t, "alice", id, "mate")
	h.manager.Disconnect("bob")
	h.manager.Disconnect("alice")

	assert.Equal(t, 1080, h.ledger.finalBalance("alice"))
	assert.Equal(t, 900, h.ledger.finalBalance("bob"))
	assert.Empty(t, h.notifier.ofType("alice", EventOpponentDisconnected))

	_, err := h.manager.SubmitMove("bob", id, Move{Notation: "e5"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRacingMateAndDisconnectConservesCoins(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		id := h.startMatch(t, 100)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.manager.SubmitMove("alice", id, Move{Notation: "mate"})
		}()
		go func() {
			defer wg.Done()
			h.manager.Disconnect("bob")
		}()
		wg.Wait()

		fee := 0
		if over := h.notifier.ofType("alice", EventSessionOver); len(over) > 0 {
			fee = over[0].Data.(SessionOver).Fee
		}

		total := h.ledger.finalBalance("alice") + h.ledger.finalBalance("bob")
		require.Equal(t, 2000, total+fee, "iteration %d", i)

		over := len(h.notifier.ofType("alice", EventSessionOver))
		left := len(h.notifier.ofType("alice", EventOpponentDisconnected))
		require.Equal(t, 1, over+left, "exactly one terminal transition in iteration %d", i)
	}
}

func TestConcurrentJoinSeatsExactlyOnePlayer(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	joiners := []string{"j0", "j1", "j2", "j3", "j4", "j5", "j6", "j7"}
	for _, id := range joiners {
		h.identify(t, id, id)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, id := range joiners {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			if _, err := h.manager.JoinSession(context.Background(), connID, snap.ID); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrSessionUnavailable)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, success)

	total := 0
	for _, id := range joiners {
		total += h.balance(t, id)
	}
	assert.Equal(t, len(joiners)*1000-100, total)
}

func TestCreateCompensatesFailedWrite(t *testing.T) {
	h := newHarness(t)
	h.persister.failSave = 1
	h.identify(t, "alice", "Alice")

	_, err := h.manager.CreateSession(context.Background(), "alice", 100)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1000, h.balance(t, "alice"))
	assert.Equal(t, 0, h.manager.Registry().Len())

	balances := h.notifier.ofType("alice", EventBalanceUpdated)
	require.Len(t, balances, 3)
	assert.Equal(t, 1000, balances[2].Data.(BalanceUpdated).Balance)
}

func TestJoinCompensatesFailedWrite(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	h.identify(t, "bob", "Bob")

	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	h.persister.failSave = 1
	_, err = h.manager.JoinSession(context.Background(), "bob", snap.ID)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1000, h.balance(t, "bob"))

	live, ok := h.manager.Session(snap.ID)
	require.True(t, ok)
	assert.Equal(t, StatusWaiting, live.Status)
	assert.Empty(t, live.BlackName)

	_, err = h.manager.JoinSession(context.Background(), "bob", snap.ID)
	require.NoError(t, err)
}

func TestCreatorLeavingDuringCreateAbandonsSession(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	h.persister.onSave = func() { h.manager.Disconnect("alice") }

	_, err := h.manager.CreateSession(context.Background(), "alice", 100)
	assert.ErrorIs(t, err, ErrNotIdentified)
	assert.Equal(t, 0, h.manager.Registry().Len())

	rec, ok := h.persister.lastQueued()
	require.True(t, ok)
	assert.Equal(t, "ABANDONED", rec.Status)
}

func TestSettlementWithoutBlackSeatAbandons(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	// Force the broken state a transition bug would leave behind.
	e, ok := h.manager.registry.lookup(snap.ID)
	require.True(t, ok)
	e.mu.Lock()
	e.session.Status = StatusActive
	e.mu.Unlock()

	_, err = h.manager.SubmitMove("alice", snap.ID, Move{Notation: "mate"})
	require.NoError(t, err)

	assert.Equal(t, 1000, h.balance(t, "alice"))
	_, live := h.manager.Session(snap.ID)
	assert.False(t, live)

	over := h.notifier.ofType("alice", EventSessionOver)
	require.Len(t, over, 1)
	assert.Equal(t, ResultAbandoned, over[0].Data.(SessionOver).Result)
}

func TestListWaitingNewestFirst(t *testing.T) {
	h := newHarness(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	h.manager.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, id := range []string{"p1", "p2", "p3"} {
		h.identify(t, id, id)
	}
	first, err := h.manager.CreateSession(context.Background(), "p1", 10)
	require.NoError(t, err)
	second, err := h.manager.CreateSession(context.Background(), "p2", 20)
	require.NoError(t, err)
	third, err := h.manager.CreateSession(context.Background(), "p3", 30)
	require.NoError(t, err)

	_, err = h.manager.JoinSession(context.Background(), "p1", second.ID)
	require.NoError(t, err)

	waiting := h.manager.ListWaiting()
	require.Len(t, waiting, 2)
	assert.Equal(t, third.ID, waiting[0].ID)
	assert.Equal(t, first.ID, waiting[1].ID)
}

func TestQueuedRecordsFollowSessionOrder(t *testing.T) {
	h := newHarness(t)
	id := h.startMatch(t, 100)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.persister.setOnEnqueue(func(rec persistence.Record) {
		if rec.Status == "ACTIVE" && len(rec.Moves) == 1 {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})

	moved := make(chan struct{})
	go func() {
		defer close(moved)
		_, err := h.manager.SubmitMove("alice", id, Move{Notation: "e4"})
		assert.NoError(t, err)
	}()
	<-entered

	left := make(chan struct{})
	go func() {
		defer close(left)
		h.manager.Disconnect("bob")
	}()

	// Give the disconnect time to reach the session before the move's
	// record is let through.
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-moved
	<-left

	queued := h.persister.queuedRecords()
	require.Len(t, queued, 2)
	assert.Equal(t, "ACTIVE", queued[0].Status)
	assert.Equal(t, "ABANDONED", queued[1].Status)
	assert.Len(t, queued[1].Moves, 1)
}

func TestDisconnectDuringJoinWriteSettlesAfterJoin(t *testing.T) {
	h := newHarness(t)
	h.identify(t, "alice", "Alice")
	h.identify(t, "bob", "Bob")

	snap, err := h.manager.CreateSession(context.Background(), "alice", 100)
	require.NoError(t, err)

	left := make(chan struct{})
	h.persister.setOnSave(func() {
		go func() {
			defer close(left)
			h.manager.Disconnect("alice")
		}()
		time.Sleep(20 * time.Millisecond)
	})

	_, err = h.manager.JoinSession(context.Background(), "bob", snap.ID)
	require.NoError(t, err)
	<-left

	assert.Equal(t, 1000, h.ledger.finalBalance("alice"))
	assert.Equal(t, 1000, h.balance(t, "bob"))
	assert.Len(t, h.notifier.ofType("bob", EventOpponentDisconnected), 1)

	rec, ok := h.persister.lastQueued()
	require.True(t, ok)
	assert.Equal(t, "ABANDONED", rec.Status)
	assert.Equal(t, "Bob", rec.BlackName)
}
