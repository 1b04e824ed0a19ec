package syncer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sw33tLie/togetter/pkg/cache"
	"github.com/sw33tLie/togetter/pkg/delivery"
	"github.com/sw33tLie/togetter/pkg/record"
	"github.com/sw33tLie/togetter/pkg/storage"
)

const (
	groupPayload = `{"label":"Groceries","lists":[{"id":"a","label":"Fruit"},{"id":"b","label":"Dairy"}]}`
	fruitPayload = `{"label":"Fruit","items":[{"item":"i1","name":"Apple","amount":3,"collected":false},{"item":"i2","name":"Pear","amount":2,"collected":true}]}`
	dairyPayload = `{"label":"Dairy","items":[{"item":"m","name":"Milk","amount":1}]}`
	otherGroup   = `{"label":"Hardware","lists":[]}`
)

type update struct {
	group, list, item string
	collected         bool
}

type fakeSource struct {
	mu      sync.Mutex
	groups  map[string]string
	lists   map[string]string
	err     error
	fetches int
	updates chan update
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		groups:  map[string]string{"g": groupPayload, "g2": otherGroup},
		lists:   map[string]string{"g/a": fruitPayload, "g/b": dairyPayload},
		updates: make(chan update, 4),
	}
}

func (f *fakeSource) FetchGroup(_ context.Context, groupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return "", f.err
	}
	return f.groups[groupID], nil
}

func (f *fakeSource) FetchList(_ context.Context, groupID, listID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return "", f.err
	}
	return f.lists[groupID+"/"+listID], nil
}

func (f *fakeSource) UpdateItem(_ context.Context, groupID, listID, itemID string, collected bool) (string, error) {
	f.updates <- update{groupID, listID, itemID, collected}
	return "ok", nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []record.Record
	fail      bool
	notify    chan struct{}
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{notify: make(chan struct{}, 16)}
}

func (d *fakeDeliverer) Deliver(_ context.Context, rec record.Record) delivery.Outcome {
	d.mu.Lock()
	d.delivered = append(d.delivered, rec)
	fail := d.fail
	d.mu.Unlock()
	d.notify <- struct{}{}
	if fail {
		return delivery.Outcome{Attempts: delivery.MaxAttempts, Err: errors.New("nack")}
	}
	return delivery.Outcome{Attempts: 1, Delivered: true}
}

func (d *fakeDeliverer) records() []record.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]record.Record(nil), d.delivered...)
}

func newTestController(t *testing.T, st storage.State) (*Controller, *fakeSource, *fakeDeliverer) {
	t.Helper()
	src := newFakeSource()
	del := newFakeDeliverer()
	c := New(Config{Source: src, Delivery: del, Store: cache.New(nil, st)})
	return c, src, del
}

// pump handles the next queued event, normally a fetch reply.
func pump(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case ev := <-c.events:
		c.handle(context.Background(), ev)
	case <-time.After(2 * time.Second):
		t.Fatalf("no event arrived")
	}
}

func mustEncode(t *testing.T, sel storage.Selection, raw string) record.Record {
	t.Helper()
	rec, err := EncodeFor(sel, raw)
	if err != nil {
		t.Fatalf("EncodeFor: %v", err)
	}
	return rec
}

func groupState() storage.State {
	sel := storage.ViewingGroup("g")
	rec, _ := EncodeFor(sel, groupPayload)
	return storage.State{Selection: sel, Cache: storage.CacheEntry{Selection: sel, Raw: groupPayload, Record: rec}}
}

func listState() storage.State {
	sel := storage.ViewingList("g", "a")
	rec, _ := EncodeFor(sel, fruitPayload)
	return storage.State{Selection: sel, Cache: storage.CacheEntry{Selection: sel, Raw: fruitPayload, Record: rec}}
}

func TestRefreshEncodesAndDelivers(t *testing.T) {
	ctx := context.Background()
	c, _, del := newTestController(t, storage.State{Selection: storage.ViewingGroup("g")})

	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)

	got := del.records()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	want := append([]byte{2, 0, 0, 6, 0}, "Fruit\x00Dairy\x00"...)
	if got[0].Label != "Groceries" || !bytes.Equal(got[0].Items(), want) {
		t.Fatalf("unexpected record %q %v", got[0].Label, got[0].Items())
	}
	if c.store.Entry().Raw != groupPayload {
		t.Fatalf("expected payload to be cached")
	}
}

func TestIdenticalPayloadDeliversOnce(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, storage.State{Selection: storage.ViewingGroup("g")})

	for i := 0; i < 2; i++ {
		c.handle(ctx, selectEvent{index: -2})
		pump(t, c)
	}
	if src.fetches != 2 {
		t.Fatalf("expected 2 fetches, got %d", src.fetches)
	}
	if n := len(del.records()); n != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", n)
	}
}

func TestReformattedPayloadRecommitsWithoutRedelivery(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, groupState())
	src.groups["g"] = groupPayload + " "

	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)

	if c.store.Entry().Raw != groupPayload+" " {
		t.Fatalf("expected the new payload to be committed")
	}
	if n := len(del.records()); n != 0 {
		t.Fatalf("expected no delivery for an identical record, got %d", n)
	}
}

func TestFailedDeliveryIsRetriedOnNextChange(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, storage.State{Selection: storage.ViewingGroup("g")})

	del.fail = true
	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)
	if n := len(del.records()); n != 1 {
		t.Fatalf("expected 1 failed delivery, got %d", n)
	}

	// Same record, new payload bytes: the device never got it, so send again.
	del.fail = false
	src.groups["g"] = groupPayload + " "
	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)
	if n := len(del.records()); n != 2 {
		t.Fatalf("expected a retry after the failed delivery, got %d deliveries", n)
	}

	// Once delivered, an identical record is skipped again.
	src.groups["g"] = groupPayload + "  "
	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)
	if n := len(del.records()); n != 2 {
		t.Fatalf("expected no redelivery after success, got %d deliveries", n)
	}
}

func TestSelectRootResetsState(t *testing.T) {
	ctx := context.Background()
	for _, st := range []storage.State{listState(), groupState()} {
		c, _, del := newTestController(t, st)

		c.handle(ctx, selectEvent{index: -1})
		if c.store.Selection() != storage.ViewingGroup("g") {
			t.Fatalf("expected group view, got %s", c.store.Selection())
		}
		if !c.store.Entry().IsEmpty() {
			t.Fatalf("expected cache to be cleared")
		}

		pump(t, c)
		got := del.records()
		if len(got) != 1 || got[0].Label != "Groceries" {
			t.Fatalf("expected the group to be delivered, got %v", got)
		}
	}
}

func TestSelectInGroupOpensList(t *testing.T) {
	ctx := context.Background()
	c, _, del := newTestController(t, groupState())

	c.handle(ctx, selectEvent{index: 1})
	if c.store.Selection() != storage.ViewingList("g", "b") {
		t.Fatalf("expected list b, got %s", c.store.Selection())
	}
	if !c.store.Entry().IsEmpty() {
		t.Fatalf("expected cache to be cleared on navigation")
	}

	pump(t, c)
	got := del.records()
	if len(got) != 1 || got[0].Label != "Dairy" {
		t.Fatalf("expected Dairy to be delivered, got %v", got)
	}
	if got[0].Entries[0].Amount() != 1 {
		t.Fatalf("expected list encoding, got %+v", got[0].Entries)
	}
}

func TestSelectOutOfRangeIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		st    storage.State
		index int
	}{
		{"group", groupState(), 7},
		{"list", listState(), 2},
		{"unknown sentinel", groupState(), -5},
		{"group not loaded", storage.State{Selection: storage.ViewingGroup("g")}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, _, del := newTestController(t, tc.st)
			c.handle(ctx, selectEvent{index: tc.index})
			if c.store.Selection() != tc.st.Selection {
				t.Fatalf("selection changed to %s", c.store.Selection())
			}
			if c.store.Entry().Raw != tc.st.Cache.Raw {
				t.Fatalf("cache changed")
			}
			if n := len(del.records()); n != 0 {
				t.Fatalf("expected no delivery, got %d", n)
			}
			if n := len(c.events); n != 0 {
				t.Fatalf("expected no pending events, got %d", n)
			}
		})
	}
}

func TestToggleItem(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, listState())

	c.handle(ctx, selectEvent{index: 0})

	got := del.records()
	if len(got) != 1 {
		t.Fatalf("expected immediate delivery, got %d", len(got))
	}
	if meta := got[0].Entries[0].Meta; meta != 0x83 {
		t.Fatalf("expected Apple to be collected with amount 3 (0x83), got %#x", meta)
	}
	if !got[0].Equal(c.store.Entry().Record) {
		t.Fatalf("cached record must match the delivered one")
	}
	if want := mustEncode(t, c.store.Selection(), c.store.Entry().Raw); !want.Equal(c.store.Entry().Record) {
		t.Fatalf("cached record is not the encoding of the cached payload")
	}

	select {
	case u := <-src.updates:
		if u != (update{"g", "a", "i1", true}) {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("remote update never sent")
	}
}

func TestFetchFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, groupState())
	src.setErr(errors.New("connection refused"))

	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)

	if c.store.Entry().Raw != groupPayload {
		t.Fatalf("cache must survive a failed fetch")
	}
	if n := len(del.records()); n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
}

func TestInvalidPayloadIsIgnored(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, groupState())
	src.groups["g"] = "<html>oops</html>"

	c.handle(ctx, selectEvent{index: -2})
	pump(t, c)

	if c.store.Entry().Raw != groupPayload {
		t.Fatalf("cache must survive an unusable payload")
	}
	if n := len(del.records()); n != 0 {
		t.Fatalf("expected no delivery, got %d", n)
	}
}

func TestStaleReplyIsDropped(t *testing.T) {
	ctx := context.Background()
	c, _, del := newTestController(t, storage.State{Selection: storage.ViewingGroup("g")})

	c.handle(ctx, selectEvent{index: -2})
	c.handle(ctx, configEvent{settings: storage.Selection{GroupID: "g2"}})
	pump(t, c)
	pump(t, c)

	got := del.records()
	if len(got) != 1 || got[0].Label != "Hardware" {
		t.Fatalf("expected only the new group to be delivered, got %v", got)
	}
	if c.store.Entry().Raw != otherGroup {
		t.Fatalf("expected g2 payload in cache, got %q", c.store.Entry().Raw)
	}
}

func TestConfigureSameGroupIsNoop(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController(t, listState())

	c.handle(ctx, configEvent{settings: storage.Selection{GroupID: "g", ListID: "b"}})
	if c.store.Selection() != storage.ViewingList("g", "a") {
		t.Fatalf("selection changed to %s", c.store.Selection())
	}
	if c.store.Entry().IsEmpty() {
		t.Fatalf("cache must be kept")
	}
}

func TestConnectedResendsThenRefreshes(t *testing.T) {
	ctx := context.Background()
	c, src, del := newTestController(t, groupState())

	c.handle(ctx, connectedEvent{})
	if n := len(del.records()); n != 1 {
		t.Fatalf("expected cached record to be re-sent, got %d deliveries", n)
	}

	pump(t, c)
	if src.fetches != 1 {
		t.Fatalf("expected a refresh after connecting, got %d fetches", src.fetches)
	}
	if n := len(del.records()); n != 1 {
		t.Fatalf("unchanged payload must not be delivered again, got %d", n)
	}
}

func TestRestoreReencodesMissingRecord(t *testing.T) {
	st := groupState()
	st.Cache.Record = record.Record{}
	c, _, _ := newTestController(t, st)

	c.restore(context.Background())
	if !c.store.Entry().Record.Equal(mustEncode(t, st.Selection, groupPayload)) {
		t.Fatalf("expected record to be rebuilt from the payload")
	}
}

func TestRestoreDropsMismatchedCache(t *testing.T) {
	st := groupState()
	st.Selection = storage.ViewingList("g", "a")
	c, _, _ := newTestController(t, st)

	c.restore(context.Background())
	if !c.store.Entry().IsEmpty() {
		t.Fatalf("expected cache for another selection to be dropped")
	}
}

func TestRunProcessesDeviceEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _, del := newTestController(t, storage.State{Selection: storage.ViewingGroup("g")})

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	c.Connected()
	select {
	case <-del.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("group never delivered")
	}

	c.Selected(0)
	select {
	case <-del.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("list never delivered")
	}

	st, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Selection != storage.ViewingList("g", "a") || st.Cache.Raw != fruitPayload {
		t.Fatalf("unexpected state %+v", st)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Run returns, got %v", err)
	}
}

func TestPeriodicRefresh(t *testing.T) {
	src := newFakeSource()
	del := newFakeDeliverer()
	c := New(Config{
		Source:          src,
		Delivery:        del,
		Store:           cache.New(nil, storage.State{Selection: storage.ViewingGroup("g")}),
		RefreshInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case <-del.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("tick never led to a delivery")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		n := src.fetches
		src.mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated fetches, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(del.records()); got != 1 {
		t.Fatalf("unchanged payload delivered %d times", got)
	}
}
