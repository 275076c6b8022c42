package quota

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"AgentFleet/internal/config"
	xerrors "AgentFleet/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestDayWindowIsHalfOpenUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	start, end := DayWindow(time.Date(2026, 3, 2, 5, 0, 0, 0, loc))
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", start)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("window should span one day, got %s", end.Sub(start))
	}
}

func TestMemoryStoreCountToday(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Record(ctx, "0xabc", KindInteract); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := store.Record(ctx, "0xabc", KindTransfer); err != nil {
		t.Fatalf("record transfer: %v", err)
	}
	if _, err := store.Record(ctx, "0xdef", KindInteract); err != nil {
		t.Fatalf("record other: %v", err)
	}

	count, err := store.CountToday(ctx, "0xabc", KindInteract)
	if err != nil || count != 3 {
		t.Fatalf("expected 3 interactions, got %d (%v)", count, err)
	}

	clock.Set(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	count, err = store.CountToday(ctx, "0xabc", KindInteract)
	if err != nil || count != 0 {
		t.Fatalf("midnight should open a new window, got %d (%v)", count, err)
	}
}

func TestMemoryStoreMaintenance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Record(ctx, "0xabc", KindInteract)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := store.Record(ctx, "0xabc", KindInteract)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids should be sequential: %d %d", first.ID, second.ID)
	}

	updated, err := store.Update(ctx, first.ID, "0xabc", KindTransfer)
	if err != nil || updated.Kind != KindTransfer {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if err := store.Delete(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].ID != first.ID || all[0].Kind != KindTransfer {
		t.Fatalf("unexpected entries %+v", all)
	}

	if _, err := store.Update(ctx, 99, "0xabc", KindInteract); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("update of missing id should be not found, got %v", err)
	}
	if err := store.Delete(ctx, 99); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("delete of missing id should be not found, got %v", err)
	}
	if _, err := store.Record(ctx, "", KindInteract); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty address should be rejected, got %v", err)
	}
}

func TestMemoryStoreConcurrentRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Record(ctx, "0xabc", KindInteract); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.CountToday(ctx, "0xabc", KindInteract)
	if err != nil || count != 20 {
		t.Fatalf("expected 20, got %d (%v)", count, err)
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota", "log.jsonl")
	ctx := context.Background()

	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, _ := store.Record(ctx, "0xabc", KindInteract)
	b, _ := store.Record(ctx, "0xabc", KindInteract)
	if _, err := store.Update(ctx, a.ID, "0xdef", KindInteract); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString("{\"op\":\"record\",\"entr")
	f.Close()

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, err := reopened.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].Address != "0xdef" {
		t.Fatalf("unexpected replayed entries %+v", all)
	}
	next, err := reopened.Record(ctx, "0xabc", KindInteract)
	if err != nil {
		t.Fatalf("record after replay: %v", err)
	}
	if next.ID != 3 {
		t.Fatalf("ids must not be reused after replay, got %d", next.ID)
	}
}

func TestFileStoreRecordSurvivesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	ctx := context.Background()

	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Record(ctx, "0xabc", KindInteract); err != nil {
		t.Fatalf("record: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"op":"record","entry":{"id":2,"addr`)
	f.Close()

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.Record(ctx, "0xabc", KindInteract); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}

	again, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("second reopen: %v", err)
	}
	count, err := again.CountToday(ctx, "0xabc", KindInteract)
	if err != nil || count != 2 {
		t.Fatalf("record written after a torn line must survive restart, got %d (%v)", count, err)
	}
}

func TestFileStoreCompletesUnterminatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	ctx := context.Background()

	line := `{"op":"record","entry":{"id":1,"address":"0xabc","kind":"interact","recorded_at":"` +
		time.Now().UTC().Format(time.RFC3339Nano) + `"}}`
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Record(ctx, "0xabc", KindInteract); err != nil {
		t.Fatalf("record: %v", err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all, err := reopened.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].ID != 1 || all[1].ID != 2 {
		t.Fatalf("both entries should be kept, got %+v", all)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), config.QuotaStoreConfig{}, dir)
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("default driver should be the file journal, got %T", store)
	}
	if _, err := store.Record(context.Background(), "0xabc", KindInteract); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, defaultJournalName)); err != nil {
		t.Fatalf("journal should be created in the data dir: %v", err)
	}

	if _, err := Open(context.Background(), config.QuotaStoreConfig{Driver: "sqlite"}, dir); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unknown driver should be rejected, got %v", err)
	}
	if _, err := Open(context.Background(), config.QuotaStoreConfig{Driver: "mysql"}, dir); !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("mysql without dsn should fail, got %v", err)
	}
}
