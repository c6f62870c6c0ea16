package proximity

import (
	"context"
	"sort"
	"sync"

	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/NomadCrew/nomad-crew-proximity/types"
	"go.uber.org/zap"
)

// DefaultRealtimePeerCap bounds the realtime filter size.
const DefaultRealtimePeerCap = 20

// PeerPatcher applies a realtime event to the peer snapshot. *Service
// satisfies it.
type PeerPatcher interface {
	PatchPeer(event types.PeerLocationEvent) bool
}

// RealtimeBridge keeps one feed subscription scoped to the nearest peers.
// Subscription failures are logged and the periodic refresh takes over.
type RealtimeBridge struct {
	feed    Feed
	patcher PeerPatcher
	cap     int
	log     *zap.SugaredLogger
	metrics *proximityMetrics

	mu     sync.Mutex
	sub    Subscription
	cancel context.CancelFunc
	ids    []string
	gen    uint64
	closed bool
}

func NewRealtimeBridge(feed Feed, patcher PeerPatcher, peerCap int) *RealtimeBridge {
	if peerCap <= 0 || peerCap > DefaultRealtimePeerCap {
		peerCap = DefaultRealtimePeerCap
	}
	return &RealtimeBridge{
		feed:    feed,
		patcher: patcher,
		cap:     peerCap,
		log:     logger.GetLogger().Named("realtime"),
		metrics: newProximityMetrics(),
	}
}

// Sync reconciles the subscription with the current peers. It subscribes
// to at most cap of the leading peers, re-subscribes when that id set
// changes, and tears down when sharing is inactive or there are no peers.
func (b *RealtimeBridge) Sync(ctx context.Context, active bool, peers []types.NearbyMember) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	var ids []string
	if active && b.feed != nil {
		ids = b.filterIDs(peers)
	}
	if len(ids) == 0 {
		b.teardownLocked()
		return
	}
	if sameIDs(ids, b.ids) {
		return
	}

	b.teardownLocked()

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := b.feed.Subscribe(subCtx, ids)
	if err != nil {
		cancel()
		b.metrics.subscriptions.WithLabelValues("error").Inc()
		b.log.Warnw("Realtime subscription failed, relying on periodic refresh",
			"peers", len(ids),
			"error", err)
		return
	}

	b.metrics.subscriptions.WithLabelValues("ok").Inc()
	b.metrics.trackedPeers.Set(float64(len(ids)))
	b.gen++
	b.sub, b.cancel, b.ids = sub, cancel, ids
	go b.pump(sub, b.gen, toSet(ids))
	b.log.Infow("Realtime subscription established", "peers", len(ids))
}

func (b *RealtimeBridge) pump(sub Subscription, gen uint64, tracked map[string]struct{}) {
	for event := range sub.Events() {
		b.mu.Lock()
		current := b.gen == gen && b.sub != nil
		b.mu.Unlock()
		if !current {
			return
		}
		if _, ok := tracked[event.SessionID]; !ok {
			b.metrics.events.WithLabelValues("untracked").Inc()
			continue
		}
		if b.patcher.PatchPeer(event) {
			b.metrics.events.WithLabelValues("patched").Inc()
		} else {
			b.metrics.events.WithLabelValues("unknown_peer").Inc()
		}
	}

	// The feed ended on its own; forget it so the next Sync subscribes again.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen == gen && b.sub == sub {
		b.log.Warnw("Realtime feed ended", "peers", len(tracked))
		b.teardownLocked()
	}
}

// Close tears the subscription down. Further Syncs are ignored.
func (b *RealtimeBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.teardownLocked()
	b.closed = true
}

// TrackedIDs returns the session ids in the live filter, sorted.
func (b *RealtimeBridge) TrackedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ids...)
}

func (b *RealtimeBridge) teardownLocked() {
	if b.sub == nil {
		return
	}
	if err := b.sub.Close(); err != nil {
		b.log.Debugw("Realtime subscription close failed", "error", err)
	}
	b.cancel()
	b.sub, b.cancel, b.ids = nil, nil, nil
	b.gen++
	b.metrics.trackedPeers.Set(0)
	b.log.Info("Realtime subscription torn down")
}

// filterIDs keeps the first cap distinct non-empty ids, then sorts them.
func (b *RealtimeBridge) filterIDs(peers []types.NearbyMember) []string {
	seen := make(map[string]struct{}, len(peers))
	ids := make([]string, 0, b.cap)
	for _, p := range peers {
		if len(ids) == b.cap {
			break
		}
		if p.SessionID == "" {
			continue
		}
		if _, dup := seen[p.SessionID]; dup {
			continue
		}
		seen[p.SessionID] = struct{}{}
		ids = append(ids, p.SessionID)
	}
	sort.Strings(ids)
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
