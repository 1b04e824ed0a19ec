// Package syncer drives the bridge: it tracks what the device shows,
// fetches the matching payload, re-encodes it when it changed and hands
// the record to delivery.
//
// All state is owned by the goroutine running Run. Device callbacks,
// configuration changes and fetch replies reach it as events, so no two
// handlers ever run at once.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sw33tLie/togetter/pkg/cache"
	"github.com/sw33tLie/togetter/pkg/delivery"
	"github.com/sw33tLie/togetter/pkg/device"
	"github.com/sw33tLie/togetter/pkg/record"
	"github.com/sw33tLie/togetter/pkg/storage"
	"github.com/sw33tLie/togetter/pkg/togetter"
)

const (
	defaultFetchTimeout = 30 * time.Second
	eventBuffer         = 32
)

var ErrStopped = errors.New("controller stopped")

// Source is the remote list API.
type Source interface {
	FetchGroup(ctx context.Context, groupID string) (string, error)
	FetchList(ctx context.Context, groupID, listID string) (string, error)
	UpdateItem(ctx context.Context, groupID, listID, itemID string, collected bool) (string, error)
}

// Deliverer sends a record to the device.
type Deliverer interface {
	Deliver(ctx context.Context, rec record.Record) delivery.Outcome
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds the controller's collaborators.
type Config struct {
	Source   Source
	Delivery Deliverer
	Store    *cache.Store
	Log      Logger // optional; nil = no logging

	// RefreshInterval re-fetches the current selection periodically.
	// Zero disables it; the device asks for refreshes on its own.
	RefreshInterval time.Duration
	FetchTimeout    time.Duration // defaults to 30s if <= 0
}

// Controller is the navigation state machine.
type Controller struct {
	source       Source
	delivery     Deliverer
	store        *cache.Store
	log          Logger
	refresh      time.Duration
	fetchTimeout time.Duration

	// undelivered is set while the device misses the current record.
	undelivered bool

	events chan event
	done   chan struct{}
}

// New builds a controller around cfg.Store, which must already hold the
// restored state.
func New(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Controller{
		source:       cfg.Source,
		delivery:     cfg.Delivery,
		store:        cfg.Store,
		log:          log,
		refresh:      cfg.RefreshInterval,
		fetchTimeout: fetchTimeout,
		events:       make(chan event, eventBuffer),
		done:         make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.restore(ctx)
	c.log.Infof("Starting with %s", c.store.Selection())

	var tick <-chan time.Time
	if c.refresh > 0 {
		ticker := time.NewTicker(c.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		case <-tick:
			c.log.Debugf("Periodic refresh")
			c.fetch(ctx)
		}
	}
}

// Connected implements device.Handler.
func (c *Controller) Connected() { c.post(connectedEvent{}) }

// Selected implements device.Handler.
func (c *Controller) Selected(index int) { c.post(selectEvent{index: index}) }

// Configure applies a settings object from the configuration surface.
func (c *Controller) Configure(settings storage.Selection) { c.post(configEvent{settings: settings}) }

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot(ctx context.Context) (storage.State, error) {
	reply := make(chan storage.State, 1)
	select {
	case c.events <- snapshotEvent{reply: reply}:
	case <-c.done:
		return storage.State{}, ErrStopped
	case <-ctx.Done():
		return storage.State{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-c.done:
		return storage.State{}, ErrStopped
	case <-ctx.Done():
		return storage.State{}, ctx.Err()
	}
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// restore makes the loaded cache consistent with the loaded selection.
func (c *Controller) restore(ctx context.Context) {
	entry := c.store.Entry()
	if entry.IsEmpty() {
		return
	}
	sel := c.store.Selection()
	if entry.Selection != sel {
		c.log.Infof("Cached payload belongs to %s, not %s; dropping it", entry.Selection, sel)
		c.saveErr(c.store.Clear(ctx))
		return
	}
	if !entry.Record.IsZero() {
		return
	}
	rec, err := EncodeFor(sel, entry.Raw)
	if err != nil {
		c.log.Warnf("Cached payload no longer parses: %v", err)
		c.saveErr(c.store.Clear(ctx))
		return
	}
	c.saveErr(c.store.Commit(ctx, sel, entry.Raw, rec))
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case connectedEvent:
		c.onConnected(ctx)
	case selectEvent:
		c.onSelect(ctx, ev.index)
	case configEvent:
		c.onConfigure(ctx, ev.settings)
	case fetchedEvent:
		c.onFetched(ctx, ev)
	case snapshotEvent:
		ev.reply <- storage.State{Selection: c.store.Selection(), Cache: c.store.Entry()}
	}
}

func (c *Controller) onConnected(ctx context.Context) {
	entry := c.store.Entry()
	if !entry.IsEmpty() && entry.Selection == c.store.Selection() {
		c.log.Debugf("Re-sending cached record %q", entry.Record.Label)
		c.deliver(ctx, entry.Record)
	} else {
		c.log.Debugf("No data to show")
	}
	c.fetch(ctx)
}

func (c *Controller) onSelect(ctx context.Context, index int) {
	sel := c.store.Selection()
	switch {
	case index == device.SelectRoot:
		c.log.Infof("Show group %s", sel.GroupID)
		c.saveErr(c.store.Select(ctx, storage.ViewingGroup(sel.GroupID)))
		c.fetch(ctx)
	case index == device.SelectRefresh:
		c.fetch(ctx)
	case index < 0:
		c.log.Warnf("Ignoring unknown selection %d", index)
	case sel.IsList():
		c.toggleItem(ctx, sel, index)
	default:
		c.openList(ctx, sel, index)
	}
}

// toggleItem flips an item optimistically, shows the result at once and
// tells the API without waiting for it.
func (c *Controller) toggleItem(ctx context.Context, sel storage.Selection, index int) {
	raw, item, err := c.store.ApplyLocalToggle(index)
	if err != nil {
		c.log.Warnf("Cannot toggle item %d of %s: %v", index, sel, err)
		return
	}
	rec, err := EncodeFor(sel, raw)
	if err != nil {
		c.log.Errorf("Encoding toggled list: %v", err)
		return
	}
	c.log.Infof("(Un)check item %q -> collected=%v", item.ID, item.Collected)
	c.saveErr(c.store.Commit(ctx, sel, raw, rec))
	c.deliver(ctx, rec)

	go func() {
		resp, err := c.source.UpdateItem(ctx, sel.GroupID, sel.ListID, item.ID, item.Collected)
		if err != nil {
			c.log.Warnf("Item update for %q failed: %v", item.ID, err)
			return
		}
		c.log.Debugf("Item updated: %s", resp)
	}()
}

func (c *Controller) openList(ctx context.Context, sel storage.Selection, index int) {
	entry := c.store.Entry()
	if entry.IsEmpty() || entry.Selection != sel {
		c.log.Warnf("Cannot open list %d: %s not loaded yet", index, sel)
		return
	}
	g, err := togetter.ParseGroup(entry.Raw)
	if err != nil {
		c.log.Errorf("Cached group does not parse: %v", err)
		return
	}
	if index >= len(g.Lists) {
		c.log.Warnf("Ignoring selection %d: group has %d lists", index, len(g.Lists))
		return
	}
	listID := g.Lists[index].ID
	if listID == "" {
		c.log.Warnf("Ignoring selection %d: list has no id", index)
		return
	}
	c.log.Infof("Show sublist %s", listID)
	c.saveErr(c.store.Select(ctx, storage.ViewingList(sel.GroupID, listID)))
	c.fetch(ctx)
}

func (c *Controller) onConfigure(ctx context.Context, settings storage.Selection) {
	current := c.store.Selection()
	if settings.GroupID == "" {
		c.log.Warnf("Ignoring configuration without a group id")
		return
	}
	if settings.GroupID == current.GroupID {
		c.log.Debugf("Configuration unchanged (group %s)", current.GroupID)
		return
	}
	c.log.Infof("Group changed from %q to %q", current.GroupID, settings.GroupID)
	c.saveErr(c.store.Select(ctx, storage.ViewingGroup(settings.GroupID)))
	c.fetch(ctx)
}

// fetch requests the payload for the current selection. The reply comes
// back as a fetchedEvent tagged with the selection it was made for.
func (c *Controller) fetch(ctx context.Context) {
	sel := c.store.Selection()
	if sel.GroupID == "" {
		c.log.Infof("No group configured, nothing to fetch")
		return
	}
	c.log.Debugf("Refresh %s", sel)
	go func() {
		fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
		var (
			raw string
			err error
		)
		if sel.IsList() {
			raw, err = c.source.FetchList(fctx, sel.GroupID, sel.ListID)
		} else {
			raw, err = c.source.FetchGroup(fctx, sel.GroupID)
		}
		c.post(fetchedEvent{selection: sel, raw: raw, err: err})
	}()
}

func (c *Controller) onFetched(ctx context.Context, ev fetchedEvent) {
	current := c.store.Selection()
	if ev.selection != current {
		c.log.Debugf("Dropping reply for %s, now showing %s", ev.selection, current)
		return
	}
	if ev.err != nil {
		c.log.Warnf("Fetching %s failed: %v", ev.selection, ev.err)
		return
	}
	if !c.store.IsStale(ev.raw) {
		c.log.Debugf("%s unchanged", current)
		return
	}
	rec, err := EncodeFor(current, ev.raw)
	if err != nil {
		c.log.Warnf("Fetching %s returned an unusable payload: %v", current, err)
		return
	}
	if rec.Overflows() {
		c.log.Warnf("Record for %s has %d entries and %d name bytes; offsets wrap on the device", current, len(rec.Entries), len(rec.Names))
	}

	prev := c.store.Entry()
	c.saveErr(c.store.Commit(ctx, current, ev.raw, rec))
	if !prev.IsEmpty() && prev.Record.Equal(rec) && !c.undelivered {
		c.log.Debugf("Payload for %s changed but its record did not", current)
		return
	}
	c.deliver(ctx, rec)
}

func (c *Controller) deliver(ctx context.Context, rec record.Record) {
	out := c.delivery.Deliver(ctx, rec)
	c.undelivered = !out.Delivered
	if c.undelivered {
		c.log.Infof("Display keeps its previous content until the next delivery")
	}
}

func (c *Controller) saveErr(err error) {
	if err != nil {
		c.log.Errorf("Saving state: %v", err)
	}
}

// EncodeFor encodes raw with the rule of sel: list views encode items,
// group views encode lists.
func EncodeFor(sel storage.Selection, raw string) (record.Record, error) {
	if sel.IsList() {
		l, err := togetter.ParseList(raw)
		if err != nil {
			return record.Record{}, err
		}
		return record.ListRecord(l), nil
	}
	g, err := togetter.ParseGroup(raw)
	if err != nil {
		return record.Record{}, err
	}
	return record.GroupRecord(g), nil
}
