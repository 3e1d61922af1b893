package webgui

import "time"

// Settings tune sessions and their connections. Use DefaultSettings and change what you need.
type Settings struct {
	// CallTimeout bounds PendingCall.Wait when no explicit timeout is given.
	CallTimeout time.Duration
	// PendingWindow is the number of most recent call ids whose results are still awaited.
	// Calls older than that are abandoned with whatever results arrived.
	PendingWindow int
	// SendQueueSize is the number of outgoing messages buffered per connection.
	SendQueueSize int
	// PingInterval is how often connections whose transport is a Pinger are pinged; zero
	// disables pings.
	PingInterval time.Duration
	// AutoUpdateTick is how often views with auto update enabled are checked.
	AutoUpdateTick time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		CallTimeout:    60 * time.Second,
		PendingWindow:  1000,
		SendQueueSize:  1000,
		PingInterval:   30 * time.Second,
		AutoUpdateTick: time.Second,
	}
}
