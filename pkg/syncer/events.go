package syncer

import "github.com/sw33tLie/togetter/pkg/storage"

type event interface{}

// connectedEvent: a device attached (startup or reconnect).
type connectedEvent struct{}

type selectEvent struct {
	index int
}

type configEvent struct {
	settings storage.Selection
}

type fetchedEvent struct {
	selection storage.Selection
	raw       string
	err       error
}

type snapshotEvent struct {
	reply chan storage.State
}
