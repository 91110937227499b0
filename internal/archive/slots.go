package archive

import "sync"

// SlotPool is a fixed arena of progress trackers addressed by index.
type SlotPool struct {
	mu       sync.Mutex
	busy     []bool
	trackers []*Tracker
}

func NewSlotPool(size int) *SlotPool {
	if size < 1 {
		size = 1
	}
	p := &SlotPool{
		busy:     make([]bool, size),
		trackers: make([]*Tracker, size),
	}
	for i := range p.trackers {
		p.trackers[i] = &Tracker{slot: i}
	}
	return p
}

func (p *SlotPool) Size() int {
	return len(p.busy)
}

// Acquire claims the lowest free slot and resets its tracker. It returns -1
// when every slot is taken; callers then run without a tracker.
func (p *SlotPool) Acquire(label string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range p.busy {
		if !b {
			p.busy[i] = true
			p.trackers[i].reset(label)
			return i
		}
	}
	return -1
}

func (p *SlotPool) Release(slot int) {
	if slot < 0 {
		return
	}
	p.mu.Lock()
	if slot < len(p.busy) {
		p.busy[slot] = false
	}
	p.mu.Unlock()
}

// Tracker returns the tracker for slot, or nil for -1.
func (p *SlotPool) Tracker(slot int) *Tracker {
	if slot < 0 || slot >= len(p.trackers) {
		return nil
	}
	return p.trackers[slot]
}

func (p *SlotPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.busy {
		if b {
			n++
		}
	}
	return n
}
