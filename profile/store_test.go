package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/daytime"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "test"), mr
}

func TestCreateDocumentIfAbsentIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateDocumentIfAbsent(ctx, "u1", Fields{FieldEmail: "ada@example.com", FieldTotalPoints: "0"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected first create to create")
	}

	created, err = s.CreateDocumentIfAbsent(ctx, "u1", Fields{FieldEmail: "other@example.com"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("expected second create to be a no-op")
	}

	snap, err := s.GetDocument(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !snap.Exists || snap.Fields[FieldEmail] != "ada@example.com" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Fields[FieldCreatedAt] == "" {
		t.Fatal("expected server assigned createdAt")
	}
}

func TestConcurrentCreateCreatesOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CreateDocumentIfAbsent(ctx, "u1", Fields{FieldTotalPoints: "0"})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if creates != 1 {
		t.Fatalf("expected exactly one create, got %d", creates)
	}
}

func TestGetMissingDocument(t *testing.T) {
	s, _ := newTestStore(t)
	snap, err := s.GetDocument(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Exists || snap.ID != "nobody" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestUpdateAndIncrementRequireDocument(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.UpdateDocument(ctx, "u1", Fields{FieldDisplayName: "Ada"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.IncrementFields(ctx, "u1", map[string]int64{FieldTotalPoints: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.CreateDocumentIfAbsent(ctx, "u1", Fields{FieldTotalPoints: "0"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateDocument(ctx, "u1", Fields{FieldDisplayName: "Ada"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.IncrementFields(ctx, "u1", map[string]int64{FieldTotalPoints: 5, FieldActivitySessions: 1}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementFields(ctx, "u1", map[string]int64{FieldTotalPoints: 2}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	snap, _ := s.GetDocument(ctx, "u1")
	if snap.Fields[FieldDisplayName] != "Ada" || snap.Fields[FieldTotalPoints] != "7" || snap.Fields[FieldActivitySessions] != "1" {
		t.Fatalf("unexpected fields: %+v", snap.Fields)
	}
}

func TestSetDocumentReplacesFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SetDocument(ctx, "u1", Fields{FieldEmail: "a@example.com", FieldDisplayName: "A"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetDocument(ctx, "u1", Fields{FieldEmail: "b@example.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, _ := s.GetDocument(ctx, "u1")
	if _, ok := snap.Fields[FieldDisplayName]; ok {
		t.Fatalf("expected displayName removed, got %+v", snap.Fields)
	}
	if err := s.SetDocument(ctx, "u1", nil); !errors.Is(err, ErrInvalidFields) {
		t.Fatalf("expected ErrInvalidFields, got %v", err)
	}
}

func TestDeleteDocumentRemovesSchedules(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateDocumentIfAbsent(ctx, "u1", Fields{FieldTotalPoints: "0"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.PutSchedule(ctx, "u1", DaySchedule{Date: "2024-05-01", WakeTime: daytime.Of(6, 0), SleepTime: daytime.Of(22, 0)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.DeleteDocument(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys after delete, got %v", keys)
	}
	if err := s.DeleteDocument(ctx, "u1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestBatchUpdateSchedulesOnlyTouchesTodayAndLater(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	today := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	oldWake, oldSleep := daytime.Of(8, 30), daytime.Of(23, 30)
	var dates []string
	for i := -4; i < 6; i++ {
		date := today.AddDate(0, 0, i).Format(daytime.DateLayout)
		dates = append(dates, date)
		if err := s.PutSchedule(ctx, "u1", DaySchedule{Date: date, WakeTime: oldWake, SleepTime: oldSleep}); err != nil {
			t.Fatalf("put %s: %v", date, err)
		}
	}

	n, err := s.BatchUpdateSchedules(ctx, "u1", today.Format(daytime.DateLayout), daytime.Of(6, 0), daytime.Of(22, 0))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 updated schedules, got %d", n)
	}

	all, err := s.ListSchedules(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("expected 10 schedules, got %d", len(all))
	}
	for i, sched := range all {
		if sched.Date != dates[i] {
			t.Fatalf("expected date order %v, got %s at %d", dates, sched.Date, i)
		}
		past := i < 4
		switch {
		case past && (sched.WakeTime != oldWake || sched.SleepTime != oldSleep):
			t.Fatalf("past schedule %s was modified: %+v", sched.Date, sched)
		case !past && (sched.WakeTime != daytime.Of(6, 0) || sched.SleepTime != daytime.Of(22, 0)):
			t.Fatalf("future schedule %s not updated: %+v", sched.Date, sched)
		}
	}
}

func TestBatchSchedulesScriptRejectsStaleKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	oldWake, oldSleep := daytime.Of(8, 30), daytime.Of(23, 30)
	for _, date := range []string{"2024-03-10", "2024-03-11"} {
		if err := s.PutSchedule(ctx, "u1", DaySchedule{Date: date, WakeTime: oldWake, SleepTime: oldSleep}); err != nil {
			t.Fatalf("put %s: %v", date, err)
		}
	}

	prefix := s.scheduleKeyPrefix("u1")
	keys := []string{s.scheduleIndexKey("u1"), prefix + "2024-03-10"}
	n, err := batchSchedulesLua.Run(ctx, s.rdb, keys, "20240310", prefix, "06:00", "22:00").Int()
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if n != -1 {
		t.Fatalf("expected -1 for a stale key list, got %d", n)
	}
	sched, err := s.GetSchedule(ctx, "u1", "2024-03-10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sched.WakeTime != oldWake || sched.SleepTime != oldSleep {
		t.Fatalf("stale batch wrote a schedule: %+v", sched)
	}

	n, err = s.BatchUpdateSchedules(ctx, "u1", "2024-03-10", daytime.Of(6, 0), daytime.Of(22, 0))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 updates, got %d, %v", n, err)
	}
}

func TestBatchUpdateSchedulesValidatesInput(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BatchUpdateSchedules(ctx, "u1", "not-a-date", daytime.Of(6, 0), daytime.Of(22, 0)); !errors.Is(err, daytime.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if _, err := s.BatchUpdateSchedules(ctx, "u1", "2024-01-01", daytime.Of(25, 0), daytime.Of(22, 0)); !errors.Is(err, daytime.ErrInvalidTimeOfDay) {
		t.Fatalf("expected ErrInvalidTimeOfDay, got %v", err)
	}
	n, err := s.BatchUpdateSchedules(ctx, "u1", "2024-01-01", daytime.Of(6, 0), daytime.Of(22, 0))
	if err != nil || n != 0 {
		t.Fatalf("expected 0 updates with no schedules, got %d, %v", n, err)
	}
}

func TestGetScheduleMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.GetSchedule(context.Background(), "u1", "2024-01-01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeDocumentDeliversInitialAndChanges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.SubscribeDocument(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := recvSnapshot(t, ch)
	if first.Exists {
		t.Fatalf("expected missing document first, got %+v", first)
	}

	if _, err := s.CreateDocumentIfAbsent(context.Background(), "u1", Fields{FieldDisplayName: "Ada"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	created := recvSnapshot(t, ch)
	if !created.Exists || created.Fields[FieldDisplayName] != "Ada" {
		t.Fatalf("unexpected snapshot after create: %+v", created)
	}

	if err := s.UpdateDocument(context.Background(), "u1", Fields{FieldDisplayName: fmt.Sprintf("Ada %d", 2)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated := recvSnapshot(t, ch)
	if updated.Fields[FieldDisplayName] != "Ada 2" {
		t.Fatalf("unexpected snapshot after update: %+v", updated)
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel not closed after cancel")
		}
	}
}

func recvSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}
