// Package directory holds the live device list fed by discovery and the
// synchronizer that waits for it to reach an expected size.
package directory

import (
	"log/slog"
	"sync"

	"yee/internal/lights"
)

// DefaultBuffer is the number of undelivered snapshots kept per subscriber.
const DefaultBuffer = 16

// Snapshot is one whole-list observation of the directory. Snapshots are
// never modified after publication.
type Snapshot []lights.Device

// IDs returns the device IDs in snapshot order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s))
	for i, d := range s {
		ids[i] = d.ID
	}
	return ids
}

// Directory is a hot, multicast feed of snapshots. Subscribers only see
// snapshots published after they subscribed.
type Directory struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

func New(logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: logger.With("component", "directory"),
	}
}

type Subscription struct {
	dir  *Directory
	ch   chan Snapshot
	once sync.Once
}

// C delivers snapshots in publication order. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.dir.mu.Lock()
		delete(s.dir.subs, s)
		close(s.ch)
		s.dir.mu.Unlock()
	})
}

func (d *Directory) Subscribe() *Subscription {
	s := &Subscription{dir: d, ch: make(chan Snapshot, d.buffer)}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	n := len(d.subs)
	d.mu.Unlock()
	d.logger.Debug("subscribed", "subscribers", n)
	return s
}

// Subscribers reports the number of live subscriptions.
func (d *Directory) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Publish replaces the directory contents with a copy of devices and
// delivers it to every subscriber. A subscriber whose buffer is full loses
// its oldest pending snapshot; Publish never blocks on a slow reader.
func (d *Directory) Publish(devices []lights.Device) Snapshot {
	snap := make(Snapshot, len(devices))
	for i, dev := range devices {
		snap[i] = dev.Clone()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for s := range d.subs {
		for {
			select {
			case s.ch <- snap:
			default:
				select {
				case <-s.ch:
					d.logger.Debug("subscriber lagging, dropped oldest snapshot")
				default:
				}
				continue
			}
			break
		}
	}
	return snap
}
