package observer

import "context"

// AppInfo identifies a foregrounded application.
type AppInfo struct {
	Package string
	Name    string
}

// ForegroundObserver reports the application most recently foregrounded
// within a time window. A nil AppInfo with a nil error means no foreground
// app was observed in the window.
//
// The window bounds are epoch milliseconds, matching how usage-event APIs
// express them.
type ForegroundObserver interface {
	Query(ctx context.Context, windowStart, windowEnd int64) (*AppInfo, error)
}

// QueryFunc adapts a function to the ForegroundObserver interface.
type QueryFunc func(ctx context.Context, windowStart, windowEnd int64) (*AppInfo, error)

func (f QueryFunc) Query(ctx context.Context, windowStart, windowEnd int64) (*AppInfo, error) {
	return f(ctx, windowStart, windowEnd)
}

// Snapshot captures ambient device context at session start.
type Snapshot struct {
	DeviceOrientation string
	BatteryLevel      *int
	NetworkType       string
}

// ContextSnapshot supplies the device context recorded on each new session.
type ContextSnapshot interface {
	Snapshot(ctx context.Context) Snapshot
}

// SnapshotFunc adapts a function to the ContextSnapshot interface.
type SnapshotFunc func(ctx context.Context) Snapshot

func (f SnapshotFunc) Snapshot(ctx context.Context) Snapshot {
	return f(ctx)
}

// StaticSnapshot returns the same snapshot on every call. Hosts without
// orientation/battery/network probes use this.
func StaticSnapshot(s Snapshot) ContextSnapshot {
	return SnapshotFunc(func(context.Context) Snapshot { return s })
}
