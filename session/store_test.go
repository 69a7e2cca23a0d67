package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/dbtest"
)

func newSessionStoreTest(t *testing.T) (*Store, int64) {
	t.Helper()
	db := dbtest.Open(t)
	u := dbtest.SeedUser(t, db, "alice", "alice@example.com", "hash")
	return NewStore(db), u.ID
}

func seedFamily(t *testing.T, store *Store, userID int64, hash string, started time.Time, ttl time.Duration) *RefreshToken {
	t.Helper()
	tok := &RefreshToken{
		TokenHash:        hash,
		FamilyID:         "fam-" + hash,
		UserID:           userID,
		ExpiresAt:        started.Add(ttl),
		SessionStartedAt: started,
		CreatedAt:        started,
	}
	if err := store.Insert(context.Background(), tok); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return tok
}

func TestRotateKeepsFamilyAndSessionStart(t *testing.T) {
	store, userID := newSessionStoreTest(t)
	ctx := context.Background()
	started := time.Now().UTC().Add(-time.Minute)
	first := seedFamily(t, store, userID, "h0", started, time.Hour)

	out, err := store.Rotate(ctx, RotateInput{
		PresentedHash:    "h0",
		NextHash:         "h1",
		Now:              time.Now().UTC(),
		RefreshTTL:       time.Hour,
		AbsoluteLifetime: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if out.Next.FamilyID != first.FamilyID {
		t.Fatalf("family changed: %s -> %s", first.FamilyID, out.Next.FamilyID)
	}
	if !out.Next.SessionStartedAt.Equal(started) {
		t.Fatalf("session start moved: %v -> %v", started, out.Next.SessionStartedAt)
	}

	prev, err := store.FindByHash(ctx, "h0")
	if err != nil {
		t.Fatalf("find previous: %v", err)
	}
	if !prev.IsRevoked || !prev.RevokedAt.Valid {
		t.Fatal("previous link must be revoked")
	}
}

func TestRotateReuseBurnsFamily(t *testing.T) {
	store, userID := newSessionStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedFamily(t, store, userID, "h0", now, time.Hour)

	in := RotateInput{PresentedHash: "h0", NextHash: "h1", Now: now, RefreshTTL: time.Hour, AbsoluteLifetime: 24 * time.Hour}
	if _, err := store.Rotate(ctx, in); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	in.NextHash = "h2"
	out, err := store.Rotate(ctx, in)
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}
	if out == nil || out.Previous == nil || out.Previous.UserID != userID {
		t.Fatalf("reuse outcome must carry the matched row: %+v", out)
	}
	if out.Revoked != 1 {
		t.Fatalf("expected successor revoked, got %d", out.Revoked)
	}
	if succ, err := store.FindByHash(ctx, "h1"); err != nil || succ.RevokeReason != ReasonReuse {
		t.Fatalf("successor should be revoked for reuse: %+v err=%v", succ, err)
	}

	in.PresentedHash = "h1"
	in.NextHash = "h3"
	if _, err := store.Rotate(ctx, in); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("successor of burned family must fail as reuse, got %v", err)
	}
}

func TestRotateExpiry(t *testing.T) {
	tests := []struct {
		name    string
		started time.Duration
		ttl     time.Duration
		want    error
		reason  string
	}{
		{name: "token expired", started: -2 * time.Hour, ttl: time.Hour, want: ErrTokenExpired, reason: ReasonTokenExpired},
		{name: "absolute lifetime exceeded", started: -25 * time.Hour, ttl: 48 * time.Hour, want: ErrSessionExpired, reason: ReasonSessionExpired},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, userID := newSessionStoreTest(t)
			now := time.Now().UTC()
			hash := "h" + strconv.Itoa(i)
			seedFamily(t, store, userID, hash, now.Add(tc.started), tc.ttl)

			in := RotateInput{
				PresentedHash:    hash,
				NextHash:         hash + "-next",
				Now:              now,
				RefreshTTL:       time.Hour,
				AbsoluteLifetime: 24 * time.Hour,
			}
			if _, err := store.Rotate(context.Background(), in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			row, err := store.FindByHash(context.Background(), hash)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !row.IsRevoked || row.RevokeReason != tc.reason {
				t.Fatalf("expired row must be revoked as %s, got revoked=%v reason=%q", tc.reason, row.IsRevoked, row.RevokeReason)
			}

			// A client retrying the same expired token is not a thief.
			out, err := store.Rotate(context.Background(), in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("retry: expected %v, got %v", tc.want, err)
			}
			if out.Revoked != 0 {
				t.Fatalf("retry must not revoke anything, revoked %d", out.Revoked)
			}
		})
	}
}

func TestRotateSuccessorCappedAtAbsoluteDeadline(t *testing.T) {
	store, userID := newSessionStoreTest(t)
	now := time.Now().UTC()
	started := now.Add(-23 * time.Hour)
	seedFamily(t, store, userID, "h0", started, 2*time.Hour)

	out, err := store.Rotate(context.Background(), RotateInput{
		PresentedHash:    "h0",
		NextHash:         "h1",
		Now:              now,
		RefreshTTL:       7 * 24 * time.Hour,
		AbsoluteLifetime: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if want := started.Add(24 * time.Hour); !out.Next.ExpiresAt.Equal(want) {
		t.Fatalf("successor expiry %v, want %v", out.Next.ExpiresAt, want)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store, userID := newSessionStoreTest(t)
	now := time.Now().UTC()
	seedFamily(t, store, userID, "h0", now, time.Hour)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		reused   int
		unknowns []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Rotate(context.Background(), RotateInput{
				PresentedHash:    "h0",
				NextHash:         "next-" + strconv.Itoa(i),
				Now:              now,
				RefreshTTL:       time.Hour,
				AbsoluteLifetime: 24 * time.Hour,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrTokenReused):
				reused++
			default:
				unknowns = append(unknowns, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unknowns) > 0 {
		t.Fatalf("unexpected errors: %v", unknowns)
	}
	if success != 1 || reused != workers-1 {
		t.Fatalf("success=%d reused=%d", success, reused)
	}

	rows, err := store.ListFamily(context.Background(), "fam-h0")
	if err != nil {
		t.Fatalf("list family: %v", err)
	}
	for _, r := range rows {
		if !r.IsRevoked {
			t.Fatalf("row %d still live after reuse", r.ID)
		}
	}
}

func TestRevokeByHashAndUser(t *testing.T) {
	store, userID := newSessionStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedFamily(t, store, userID, "a0", now, time.Hour)
	seedFamily(t, store, userID, "b0", now, time.Hour)

	row, n, err := store.RevokeByHash(ctx, "a0", now)
	if err != nil || n != 1 || row.UserID != userID {
		t.Fatalf("RevokeByHash row=%+v n=%d err=%v", row, n, err)
	}
	if _, _, err := store.RevokeByHash(ctx, "missing", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	n, err = store.RevokeAllForUser(ctx, userID, now)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllForUser n=%d err=%v", n, err)
	}

	purged, err := store.PurgeExpired(ctx, now.Add(2*time.Hour))
	if err != nil || purged != 2 {
		t.Fatalf("PurgeExpired n=%d err=%v", purged, err)
	}
}
