// Package preview serves a live view of the colors sent to the LED strip.
package preview

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lubosmato/wled-ambilight/internal/border"
	"github.com/lubosmato/wled-ambilight/internal/util"
)

// Snapshot is one sent ring as the browser sees it. Colors run clockwise
// from the top-left corner; the side counts split the list.
type Snapshot struct {
	Seq      uint64   `json:"seq"`
	Top      int      `json:"top"`
	Right    int      `json:"right"`
	Bottom   int      `json:"bottom"`
	Left     int      `json:"left"`
	Channels int      `json:"channels"`
	Colors   []string `json:"colors"`
}

// Hub fans snapshots out to subscribers. Slow subscribers lose snapshots
// instead of slowing the sender.
type Hub struct {
	channels int

	mu   sync.RWMutex
	subs map[string]chan Snapshot
	seq  atomic.Uint64
}

// NewHub creates an empty hub. channels is the per-LED byte count on the
// wire and is only reported to clients.
func NewHub(channels int) *Hub {
	return &Hub{channels: channels, subs: make(map[string]chan Snapshot)}
}

// Subscribe registers id and returns its snapshot channel.
func (h *Hub) Subscribe(id string, bufferSize int) <-chan Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Snapshot, bufferSize)
	h.subs[id] = ch
	util.GetLogger().Debug("Preview subscriber added", "id", id, "total", len(h.subs))
	return ch
}

// Unsubscribe removes id and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, exists := h.subs[id]; exists {
		close(ch)
		delete(h.subs, id)
		util.GetLogger().Debug("Preview subscriber removed", "id", id, "total", len(h.subs))
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish converts colors into a snapshot and offers it to every
// subscriber. Nothing is copied when nobody is listening.
func (h *Hub) Publish(colors *border.ColorSet) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seq := h.seq.Add(1)
	if len(h.subs) == 0 {
		return
	}

	snap := newSnapshot(seq, h.channels, colors)
	for id, ch := range h.subs {
		select {
		case ch <- snap:
		default:
			util.GetLogger().Debug("Preview channel full, dropping snapshot", "subscriber", id, "seq", seq)
		}
	}
}

func newSnapshot(seq uint64, channels int, colors *border.ColorSet) Snapshot {
	snap := Snapshot{
		Seq:      seq,
		Top:      len(colors.Top) / border.BytesPerColor,
		Right:    len(colors.Right) / border.BytesPerColor,
		Bottom:   len(colors.Bottom) / border.BytesPerColor,
		Left:     len(colors.Left) / border.BytesPerColor,
		Channels: channels,
		Colors:   make([]string, 0, colors.Len()),
	}
	for _, side := range colors.Sides() {
		for i := 0; i+border.BytesPerColor <= len(side); i += border.BytesPerColor {
			snap.Colors = append(snap.Colors, fmt.Sprintf("#%02x%02x%02x", side[i], side[i+1], side[i+2]))
		}
	}
	return snap
}
