package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"slack_scheduler/internal/models"
)

type jobStore interface {
	Insert(ctx context.Context, msg *models.ScheduledMessage) (string, error)
	ClaimNextDue(ctx context.Context, now time.Time) (models.ScheduledMessage, bool, error)
	MarkDelivered(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
	Release(ctx context.Context, claimed models.ScheduledMessage) error
	ListUpcoming(ctx context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, now time.Time) (models.JobStats, error)
}

type credentialStore interface {
	Resolve(ctx context.Context, workspace string) (models.Credential, bool, error)
	Upsert(ctx context.Context, c models.Credential) error
}

// storeResolution is the smallest timestamp step every store keeps (BSON dates are milliseconds).
const storeResolution = time.Millisecond

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func insertJob(t *testing.T, s jobStore, workspace, channel string, sendAt time.Time) models.ScheduledMessage {
	t.Helper()
	msg := &models.ScheduledMessage{
		Workspace: workspace,
		ChannelID: channel,
		Message:   "hello",
		SendAt:    sendAt,
	}
	if _, err := s.Insert(testContext(t), msg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return *msg
}

// newStore must return an empty store with leases disabled.
func runJobStoreContract(t *testing.T, newStore func(t *testing.T) jobStore) {
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("insert starts unlocked", func(t *testing.T) {
		s := newStore(t)
		msg := insertJob(t, s, "acme", "C1", base)
		if msg.ID == "" || msg.Locked {
			t.Fatalf("inserted = %+v", msg)
		}
	})

	t.Run("insert rejects empty fields", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Insert(testContext(t), &models.ScheduledMessage{Workspace: "acme", SendAt: base}); err == nil {
			t.Fatal("expected error for empty channel/message")
		}
	})

	t.Run("due boundary is inclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		onTime := insertJob(t, s, "acme", "C1", base)
		insertJob(t, s, "acme", "C2", base.Add(storeResolution))

		got, ok, err := s.ClaimNextDue(ctx, base)
		if err != nil || !ok {
			t.Fatalf("claim at dueAt: ok=%v err=%v", ok, err)
		}
		if got.ID != onTime.ID || !got.Locked {
			t.Fatalf("claimed %+v, want %s locked", got, onTime.ID)
		}

		if _, ok, err := s.ClaimNextDue(ctx, base); err != nil || ok {
			t.Fatalf("job one unit in the future must not be claimable: ok=%v err=%v", ok, err)
		}
	})

	t.Run("claimed job is not claimed twice", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("first claim must succeed")
		}
		if _, ok, err := s.ClaimNextDue(ctx, base); err != nil || ok {
			t.Fatalf("second claim: ok=%v err=%v", ok, err)
		}
	})

	t.Run("at most one concurrent claim", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		job := insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		const n = 16
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			claims []string
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				m, ok, err := s.ClaimNextDue(ctx, base)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if ok {
					mu.Lock()
					claims = append(claims, m.ID)
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()

		if len(claims) != 1 || claims[0] != job.ID {
			t.Fatalf("claims = %v, want exactly [%s]", claims, job.ID)
		}
	})

	t.Run("unlock makes the job claimable again", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		job := insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("claim must succeed")
		}
		if err := s.Unlock(ctx, job.ID); err != nil {
			t.Fatalf("unlock: %v", err)
		}

		list, err := s.ListUpcoming(ctx, "acme", time.Time{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 || list[0].Locked || list[0].LockedUntil != nil {
			t.Fatalf("after unlock = %+v", list)
		}
		if list[0].Message != job.Message || list[0].ChannelID != job.ChannelID || !list[0].SendAt.Equal(job.SendAt) {
			t.Fatalf("unlock changed fields: %+v vs %+v", list[0], job)
		}

		if again, ok, err := s.ClaimNextDue(ctx, base); err != nil || !ok || again.ID != job.ID {
			t.Fatalf("reclaim: %+v ok=%v err=%v", again, ok, err)
		}
	})

	t.Run("delivered job is gone", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		job := insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("claim must succeed")
		}
		if err := s.MarkDelivered(ctx, job.ID); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
		if _, ok, err := s.ClaimNextDue(ctx, base.Add(time.Hour)); err != nil || ok {
			t.Fatalf("claim after delivery: ok=%v err=%v", ok, err)
		}
		// repeated delete and unlock of a vanished id are no-ops
		if err := s.MarkDelivered(ctx, job.ID); err != nil {
			t.Fatalf("second mark delivered: %v", err)
		}
		if err := s.Unlock(ctx, job.ID); err != nil {
			t.Fatalf("unlock of deleted job: %v", err)
		}
		deleted, err := s.Cancel(ctx, job.ID)
		if err != nil || deleted {
			t.Fatalf("cancel after send: deleted=%v err=%v", deleted, err)
		}
	})

	t.Run("cancel removes locked and unlocked jobs", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		a := insertJob(t, s, "acme", "C1", base.Add(-time.Second))
		b := insertJob(t, s, "acme", "C2", base.Add(time.Hour))

		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("claim must succeed")
		}
		for _, id := range []string{a.ID, b.ID} {
			deleted, err := s.Cancel(ctx, id)
			if err != nil || !deleted {
				t.Fatalf("cancel %s: deleted=%v err=%v", id, deleted, err)
			}
		}
		if deleted, err := s.Cancel(ctx, "does-not-exist"); err != nil || deleted {
			t.Fatalf("cancel unknown: deleted=%v err=%v", deleted, err)
		}
	})

	t.Run("list upcoming is per workspace and ascending", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		late := insertJob(t, s, "acme", "C1", base.Add(2*time.Hour))
		early := insertJob(t, s, "acme", "C2", base.Add(time.Hour))
		past := insertJob(t, s, "acme", "C3", base.Add(-time.Hour))
		insertJob(t, s, "globex", "C9", base.Add(time.Hour))

		list, err := s.ListUpcoming(ctx, "acme", base)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != early.ID || list[1].ID != late.ID {
			t.Fatalf("list = %+v", list)
		}

		all, err := s.ListUpcoming(ctx, "acme", time.Time{})
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(all) != 3 || all[0].ID != past.ID {
			t.Fatalf("list all = %+v", all)
		}
	})

	t.Run("list upcoming requires a workspace", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		insertJob(t, s, "acme", "C1", base)

		for _, ws := range []string{"", "   "} {
			if _, err := s.ListUpcoming(ctx, ws, time.Time{}); err == nil {
				t.Errorf("ListUpcoming(%q) must fail", ws)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := newStore(t)
		ctx := testContext(t)
		insertJob(t, s, "acme", "C1", base.Add(-time.Minute))
		insertJob(t, s, "acme", "C2", base.Add(-time.Second))
		insertJob(t, s, "acme", "C3", base.Add(time.Hour))

		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("claim must succeed")
		}

		st, err := s.Stats(ctx, base)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		want := models.JobStats{Pending: 2, Locked: 1, Overdue: 1}
		if st != want {
			t.Fatalf("stats = %+v, want %+v", st, want)
		}
	})
}

// newStore must return a store with the given lease TTL. Leases run on the
// store's own clock, so expiry is exercised with real sleeps.
func runLeaseContract(t *testing.T, newStore func(t *testing.T, ttl time.Duration) jobStore) {
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("lease runs from the claim, not the poll time", func(t *testing.T) {
		s := newStore(t, time.Hour)
		ctx := testContext(t)
		pollTime := base.Add(-2 * time.Hour)
		insertJob(t, s, "acme", "C1", pollTime)

		first, ok, err := s.ClaimNextDue(ctx, pollTime)
		if err != nil || !ok {
			t.Fatalf("claim: ok=%v err=%v", ok, err)
		}
		// poll time + ttl would already be in the past
		if first.LockedUntil == nil || !first.LockedUntil.After(base.Add(30*time.Minute)) {
			t.Fatalf("lease = %v, want about now+1h", first.LockedUntil)
		}

		if _, ok, _ := s.ClaimNextDue(ctx, base.Add(3*time.Hour)); ok {
			t.Fatal("a later poll time must not expire a live lease")
		}
	})

	t.Run("expired lease is reclaimable and the old holder cannot release it", func(t *testing.T) {
		s := newStore(t, time.Second)
		ctx := testContext(t)
		job := insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		first, ok, err := s.ClaimNextDue(ctx, base)
		if err != nil || !ok {
			t.Fatalf("claim: ok=%v err=%v", ok, err)
		}
		if _, ok, _ := s.ClaimNextDue(ctx, base); ok {
			t.Fatal("lease still valid, claim must fail")
		}

		time.Sleep(1500 * time.Millisecond)

		again, ok, err := s.ClaimNextDue(ctx, base)
		if err != nil || !ok || again.ID != job.ID {
			t.Fatalf("claim after lease expiry: %+v ok=%v err=%v", again, ok, err)
		}
		if again.LockedUntil == nil || !again.LockedUntil.After(*first.LockedUntil) {
			t.Fatalf("new lease %v must be after %v", again.LockedUntil, first.LockedUntil)
		}

		if err := s.Release(ctx, first); err != nil {
			t.Fatalf("stale release: %v", err)
		}
		if _, ok, _ := s.ClaimNextDue(ctx, base); ok {
			t.Fatal("stale release unlocked a re-claimed job")
		}

		if err := s.Release(ctx, again); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("release by the current holder must unlock")
		}
	})

	t.Run("no lease means locked until released", func(t *testing.T) {
		s := newStore(t, 0)
		ctx := testContext(t)
		insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		first, ok, _ := s.ClaimNextDue(ctx, base)
		if !ok || first.LockedUntil != nil {
			t.Fatalf("claim = %+v ok=%v", first, ok)
		}
		if _, ok, _ := s.ClaimNextDue(ctx, base.Add(24*time.Hour)); ok {
			t.Fatal("job without lease must stay locked")
		}

		if err := s.Release(ctx, first); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, ok, _ := s.ClaimNextDue(ctx, base); !ok {
			t.Fatal("released job must be claimable")
		}
	})

	t.Run("release of a missing job is a no-op", func(t *testing.T) {
		s := newStore(t, time.Minute)
		ctx := testContext(t)
		job := insertJob(t, s, "acme", "C1", base.Add(-time.Second))

		claimed, _, _ := s.ClaimNextDue(ctx, base)
		if err := s.MarkDelivered(ctx, job.ID); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
		if err := s.Release(ctx, claimed); err != nil {
			t.Fatalf("release after delete: %v", err)
		}
	})
}

func runCredentialStoreContract(t *testing.T, s credentialStore) {
	ctx := testContext(t)

	if _, found, err := s.Resolve(ctx, "acme"); err != nil || found {
		t.Fatalf("resolve missing: found=%v err=%v", found, err)
	}

	if err := s.Upsert(ctx, models.Credential{Workspace: "acme", AccessToken: "xoxb-1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, models.Credential{Workspace: "acme", AccessToken: "xoxb-2", TeamID: "T1"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	c, found, err := s.Resolve(ctx, "acme")
	if err != nil || !found {
		t.Fatalf("resolve: found=%v err=%v", found, err)
	}
	if c.AccessToken != "xoxb-2" || c.TeamID != "T1" {
		t.Fatalf("credential = %+v", c)
	}

	if err := s.Upsert(ctx, models.Credential{Workspace: "acme"}); err == nil {
		t.Fatal("upsert without token must fail")
	}
}
