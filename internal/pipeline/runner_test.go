package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"postflow/internal/publish"
)

// ---- fakes ----

type fakeEnhancer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error // keyed by item ID
}

func (f *fakeEnhancer) Enhance(_ context.Context, item publish.ContentItem) (publish.EnhanceResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, item.ID)
	err := f.errs[item.ID]
	f.mu.Unlock()
	if err != nil {
		return publish.EnhanceResult{}, err
	}
	return publish.EnhanceResult{Caption: "caption for " + item.ID}, nil
}

type postCall struct {
	Handle  string
	Caption string
	At      time.Time
	PlaceID string
}

type fakePublisher struct {
	mu      sync.Mutex
	uploads []string
	posts   []postCall
	postErr map[string]error // keyed by media handle
	onPost  func(handle string)
}

func (f *fakePublisher) UploadMedia(_ context.Context, _ publish.Destination, mediaRef string) (publish.MediaHandle, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, mediaRef)
	f.mu.Unlock()
	return publish.MediaHandle(mediaRef), nil
}

func (f *fakePublisher) CreatePost(_ context.Context, _ publish.Destination, caption string, media publish.MediaHandle, at *time.Time, placeID string) (string, error) {
	f.mu.Lock()
	err := f.postErr[string(media)]
	hook := f.onPost
	if err == nil {
		call := postCall{Handle: string(media), Caption: caption, PlaceID: placeID}
		if at != nil {
			call.At = *at
		}
		f.posts = append(f.posts, call)
	}
	f.mu.Unlock()
	if hook != nil {
		hook(string(media))
	}
	if err != nil {
		return "", err
	}
	return "post-" + string(media), nil
}

func (f *fakePublisher) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type fakeAnalytics struct {
	weights [24]float64
	err     error
}

func (f *fakeAnalytics) HourlyEngagement(context.Context, publish.Destination) ([24]float64, error) {
	return f.weights, f.err
}

type memStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemStore() *memStore { return &memStore{keys: map[string]bool{}} }

func (m *memStore) HasSubmission(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memStore) AddSubmission(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	return nil
}

func (m *memStore) Close() error { return nil }

// ---- helpers ----

func testQueue(n int) []QueueItem {
	items := make([]QueueItem, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('1' + i))
		items = append(items, QueueItem{ID: "item-" + id, MediaRef: "m" + id})
	}
	return items
}

func testRequest(n int) RunRequest {
	tomorrow := time.Now().AddDate(0, 0, 1)
	cfg := ScheduleConfig{
		Mode:            ModeManual,
		StartDate:       tomorrow,
		StartTime:       TimeOfDay{Hour: 9},
		EndTime:         TimeOfDay{Hour: 22},
		IntervalMinutes: 30,
	}
	return RunRequest{
		Queue:       testQueue(n),
		Destination: publish.Destination{ID: "dest-a", Name: "main account"},
		Schedule:    cfg,
	}
}

func newTestService(deps Deps) *Service {
	return New(Config{PausePoll: 2 * time.Millisecond}, deps)
}

// chronological reverses the presentation order back to append order.
func chronological(entries []LogEntry) []LogEntry {
	out := make([]LogEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

func successMessages(entries []LogEntry) []LogEntry {
	var out []LogEntry
	for _, e := range chronological(entries) {
		if e.Status == StatusSuccess {
			out = append(out, e)
		}
	}
	return out
}

func hasMessage(entries []LogEntry, msg string) bool {
	for _, e := range entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// ---- tests ----

func TestRunEndToEnd(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	if err := svc.Start(context.Background(), testRequest(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
	if p := svc.Progress(); p.Current != 3 || p.Total != 3 {
		t.Fatalf("progress = %+v, want (3,3)", p)
	}

	entries := svc.Entries()
	if entries[0].Message != "scheduling complete" {
		t.Fatalf("most recent entry = %q, want scheduling complete", entries[0].Message)
	}
	succ := successMessages(entries)
	if len(succ) != 3 {
		t.Fatalf("expected 3 success entries, got %d", len(succ))
	}
	for i, e := range succ {
		wantItem := testQueue(3)[i].ID
		if e.ItemID != wantItem {
			t.Fatalf("success %d for %q, want %q (submission order)", i, e.ItemID, wantItem)
		}
	}
	if pub.postCount() != 3 {
		t.Fatalf("expected 3 posts, got %d", pub.postCount())
	}
	// Slots arrive 30 minutes apart in queue order.
	for i := 1; i < len(pub.posts); i++ {
		if got := pub.posts[i].At.Sub(pub.posts[i-1].At); got != 30*time.Minute {
			t.Fatalf("slot gap %d = %v, want 30m", i, got)
		}
	}
}

func TestValidationFailures(t *testing.T) {
	svc := newTestService(Deps{Enhancer: &fakeEnhancer{}, Publisher: &fakePublisher{}})

	req := testRequest(3)
	req.Queue = nil
	if err := svc.Start(context.Background(), req); err != ErrEmptyQueue {
		t.Fatalf("empty queue: err = %v, want ErrEmptyQueue", err)
	}

	req = testRequest(3)
	req.Destination = publish.Destination{}
	if err := svc.Start(context.Background(), req); err != ErrNoDestination {
		t.Fatalf("no destination: err = %v, want ErrNoDestination", err)
	}

	req = testRequest(1)
	req.CheckDuplicates = true // no store configured
	if err := svc.Start(context.Background(), req); err != ErrNoLedger {
		t.Fatalf("no ledger: err = %v, want ErrNoLedger", err)
	}

	if got := svc.State(); got != StateIdle {
		t.Fatalf("state after rejected runs = %v, want idle", got)
	}
	entries := svc.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 error log entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != StatusError {
			t.Fatalf("validation entry status = %q, want error", e.Status)
		}
	}
}

func TestSlotGenerationFailure(t *testing.T) {
	ana := &fakeAnalytics{err: &publish.PublishError{Op: "insights", Message: "backend unavailable"}}
	svc := newTestService(Deps{Enhancer: &fakeEnhancer{}, Publisher: &fakePublisher{}, Analytics: ana})

	req := testRequest(2)
	req.Schedule = ScheduleConfig{Mode: ModeSmart, SmartScheduleEnabled: true}
	if err := svc.Start(context.Background(), req); err == nil {
		t.Fatal("expected slot generation error")
	}
	if got := svc.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestCancelDoesNotInterruptInFlightItem(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})
	// Cancel while item 2 is in flight: item 2 still completes, item 3 is
	// never attempted.
	pub.onPost = func(handle string) {
		if handle == "m2" {
			svc.RequestCancel()
		}
	}

	if err := svc.Start(context.Background(), testRequest(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if pub.postCount() != 2 {
		t.Fatalf("expected 2 posts, got %d", pub.postCount())
	}
	entries := svc.Entries()
	if !hasMessage(entries, "cancelled by user") {
		t.Fatal("missing cancelled-by-user entry")
	}
	for _, e := range entries {
		if e.ItemID == "item-3" {
			t.Fatalf("unexpected entry for unattempted item: %+v", e)
		}
	}
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
}

func TestPauseBlocksAndResumes(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	svc.SetPaused(true)
	if err := svc.Start(context.Background(), testRequest(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return svc.State() == StatePaused })

	if p := svc.Progress(); p.Current != 0 {
		t.Fatalf("progress advanced while paused: %+v", p)
	}
	if pub.postCount() != 0 {
		t.Fatal("published while paused")
	}

	svc.SetPaused(false)
	svc.Wait()

	if p := svc.Progress(); p.Current != 3 || p.Total != 3 {
		t.Fatalf("progress after resume = %+v, want (3,3)", p)
	}
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
}

func TestCancelAfterCompletionIsIgnored(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	if err := svc.Start(context.Background(), testRequest(1)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	svc.RequestCancel()
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state after late cancel = %v, want completed", got)
	}
	// The service still accepts new runs.
	if err := svc.Start(context.Background(), testRequest(1)); err != nil {
		t.Fatalf("Start after late cancel: %v", err)
	}
	svc.Wait()
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state after restart = %v, want completed", got)
	}
}

func TestCancelRacingCompletionLeavesCompleted(t *testing.T) {
	// Cancel concurrently with the natural completion of a 1-item run.
	// Whichever side wins, the terminal state must be Completed, never a
	// stuck Cancelling that would reject all future runs.
	for i := 0; i < 200; i++ {
		pub := &fakePublisher{}
		svc := newTestService(Deps{Enhancer: &fakeEnhancer{}, Publisher: pub})
		if err := svc.Start(context.Background(), testRequest(1)); err != nil {
			t.Fatalf("iteration %d: Start: %v", i, err)
		}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RequestCancel()
		}()
		svc.Wait()
		wg.Wait()
		if got := svc.State(); got != StateCompleted {
			t.Fatalf("iteration %d: state = %v, want completed", i, got)
		}
	}
}

func TestCancelDuringPauseStopsBeforeNextItem(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	svc.SetPaused(true)
	if err := svc.Start(context.Background(), testRequest(2)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return svc.State() == StatePaused })

	// Cancel and resume land in the same poll window; no item may run.
	svc.RequestCancel()
	svc.SetPaused(false)
	svc.Wait()

	if pub.postCount() != 0 {
		t.Fatalf("expected no posts after cancel during pause, got %d", pub.postCount())
	}
	if !hasMessage(svc.Entries(), "cancelled by user") {
		t.Fatal("missing cancelled-by-user entry")
	}
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
}

func TestDuplicateSkip(t *testing.T) {
	store := newMemStore()
	_ = store.AddSubmission(context.Background(), "item-2|dest-a")

	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub, Store: store})

	req := testRequest(3)
	req.CheckDuplicates = true
	if err := svc.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if pub.postCount() != 2 {
		t.Fatalf("expected 2 posts (item 2 skipped), got %d", pub.postCount())
	}
	for _, u := range pub.uploads {
		if u == "m2" {
			t.Fatal("skipped item reached the publisher")
		}
	}
	snap := svc.Snapshot()
	if snap.Counts.Skipped != 1 || snap.Counts.Succeeded != 2 {
		t.Fatalf("counts = %+v, want 1 skipped / 2 succeeded", snap.Counts)
	}
	// Successful submissions are recorded for future runs.
	for _, key := range []string{"item-1|dest-a", "item-3|dest-a"} {
		if ok, _ := store.HasSubmission(context.Background(), key); !ok {
			t.Fatalf("key %q not recorded", key)
		}
	}
}

func TestAuthExpiryAbortsRun(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{postErr: map[string]error{
		"m2": &publish.PublishError{Op: "create_post", Message: "OAuth access token has expired"},
	}}

	var authMu sync.Mutex
	authCalls := 0
	svc := newTestService(Deps{
		Enhancer:  enh,
		Publisher: pub,
		Observers: Observers{OnAuthFailure: func() {
			authMu.Lock()
			authCalls++
			authMu.Unlock()
		}},
	})

	if err := svc.Start(context.Background(), testRequest(5)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if pub.postCount() != 1 {
		t.Fatalf("expected 1 post before abort, got %d", pub.postCount())
	}
	authMu.Lock()
	calls := authCalls
	authMu.Unlock()
	if calls != 1 {
		t.Fatalf("auth-failure callback invoked %d times, want 1", calls)
	}
	entries := svc.Entries()
	if !hasMessage(entries, "authentication expired, aborting run") {
		t.Fatal("missing fatal notice in log")
	}
	for _, e := range entries {
		if e.ItemID == "item-3" || e.ItemID == "item-4" || e.ItemID == "item-5" {
			t.Fatalf("unexpected entry for item after abort: %+v", e)
		}
	}
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
}

func TestPerItemFailureContinues(t *testing.T) {
	enh := &fakeEnhancer{errs: map[string]error{
		"item-1": &publish.EnhanceError{Message: "caption model timeout"},
	}}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	if err := svc.Start(context.Background(), testRequest(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if pub.postCount() != 2 {
		t.Fatalf("expected 2 posts, got %d", pub.postCount())
	}
	snap := svc.Snapshot()
	if snap.Counts.Failed != 1 || snap.Counts.Succeeded != 2 {
		t.Fatalf("counts = %+v, want 1 failed / 2 succeeded", snap.Counts)
	}
	if snap.State != StateCompleted {
		t.Fatalf("state = %v, want completed", snap.State)
	}
	if p := svc.Progress(); p.Current != 3 {
		t.Fatalf("progress = %+v, want current 3", p)
	}
}

func TestDispatchLeadTimeCorrection(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	// Freeze the clock so the manual slot (today 00:01) is in the past
	// but lands in the future after the one-day push.
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	req := testRequest(1)
	req.Schedule.StartDate = now
	req.Schedule.StartTime = TimeOfDay{Hour: 0, Minute: 1}
	if err := svc.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if pub.postCount() != 1 {
		t.Fatalf("expected 1 post, got %d", pub.postCount())
	}
	want := time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)
	if !pub.posts[0].At.Equal(want) {
		t.Fatalf("dispatched slot = %v, want %v", pub.posts[0].At, want)
	}
	adjusted := false
	for _, e := range svc.Entries() {
		if e.Status == StatusInfo && e.ItemID == "item-1" {
			adjusted = true
		}
	}
	if !adjusted {
		t.Fatal("missing slot adjustment log entry")
	}
}

func TestToggleStartsThenCancels(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	pub.onPost = func(handle string) {
		if handle == "m1" {
			once.Do(func() { close(started) })
			<-release
		}
	}

	req := testRequest(3)
	if err := svc.Toggle(context.Background(), req); err != nil {
		t.Fatalf("Toggle (start): %v", err)
	}
	<-started
	if err := svc.Toggle(context.Background(), req); err != nil {
		t.Fatalf("Toggle (cancel): %v", err)
	}
	close(release)
	svc.Wait()

	if pub.postCount() != 1 {
		t.Fatalf("expected 1 post, got %d", pub.postCount())
	}
	if !hasMessage(svc.Entries(), "cancelled by user") {
		t.Fatal("missing cancelled-by-user entry")
	}

	// A fresh toggle from Completed starts a new run.
	pub.onPost = nil
	if err := svc.Toggle(context.Background(), testRequest(2)); err != nil {
		t.Fatalf("Toggle (restart): %v", err)
	}
	svc.Wait()
	if got := svc.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
	if p := svc.Progress(); p.Current != 2 || p.Total != 2 {
		t.Fatalf("progress = %+v, want (2,2)", p)
	}
}

func TestPlaceIDResolution(t *testing.T) {
	enh := &fakeEnhancer{}
	pub := &fakePublisher{}
	svc := newTestService(Deps{Enhancer: enh, Publisher: pub})

	req := testRequest(2)
	req.Schedule.PlaceID = "place-default"
	req.Queue[1].PlaceID = "place-override"
	if err := svc.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	if pub.posts[0].PlaceID != "place-default" {
		t.Fatalf("post 0 place = %q, want schedule default", pub.posts[0].PlaceID)
	}
	if pub.posts[1].PlaceID != "place-override" {
		t.Fatalf("post 1 place = %q, want item override", pub.posts[1].PlaceID)
	}
}
