package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Garbage collection: stop-the-world mark and sweep
// ---------------------------------------------------------------------------

var gcLog = commonlog.GetLogger("hebi.gc")

const (
	gcInitialThreshold = 1024
	gcGrowthFactor     = 2
)

// ShouldCollect reports whether allocation volume since the last cycle
// has crossed the current threshold. The interpreter checks this only
// between instructions, so no frame is ever mid-instruction during a
// collection.
func (h *Heap) ShouldCollect() bool {
	return h.allocsSinceGC >= h.threshold
}

// Collect runs one mark-sweep cycle. The roots function must call
// visit for every root value: frame registers, open cells, globals,
// scheduler tasks and values pinned by in-flight native calls.
// Returns the number of objects reclaimed.
func (h *Heap) Collect(roots func(visit func(Value))) int {
	var work []Value
	visit := func(v Value) {
		if v.IsObject() {
			work = append(work, v)
		}
	}

	// Mark
	roots(visit)
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]

		hd := v.AsHandle()
		if int(hd.Index) >= len(h.slots) {
			continue
		}
		slot := &h.slots[hd.Index]
		if slot.gen != hd.Gen || slot.obj == nil || slot.marked {
			continue
		}
		slot.marked = true
		slot.obj.Trace(visit)
	}

	// Sweep
	freed := 0
	for i := range h.slots {
		slot := &h.slots[i]
		if slot.obj == nil {
			continue
		}
		if slot.marked {
			slot.marked = false
			continue
		}
		slot.obj = nil
		slot.gen++
		h.free = append(h.free, uint32(i))
		freed++
	}

	h.liveCount -= freed
	h.allocsSinceGC = 0
	h.threshold = h.liveCount * gcGrowthFactor
	if h.threshold < gcInitialThreshold {
		h.threshold = gcInitialThreshold
	}

	gcLog.Debugf("collected %d objects, %d live, next threshold %d", freed, h.liveCount, h.threshold)
	return freed
}
