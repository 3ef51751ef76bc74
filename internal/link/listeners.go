package link

import "github.com/danmuck/glovelink/internal/protocol"

// Listener receives link output. Nil members are skipped. Callbacks run on
// the receive or tick goroutine with no link lock held and must not block.
type Listener struct {
	Joint      func(frame protocol.JointFrame, side protocol.Laterality)
	Raw        func(frame protocol.RawFrame, side protocol.Laterality)
	DeviceInfo func(info protocol.DeviceInfo)
	State      func(from, to State)
}

// Subscribe registers l and returns a func that removes it.
func (l *Link) Subscribe(listener Listener) func() {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	id := l.nextListener
	l.nextListener++
	l.listeners[id] = listener
	return func() {
		l.listenersMu.Lock()
		defer l.listenersMu.Unlock()
		delete(l.listeners, id)
	}
}

func (l *Link) snapshotListeners() []Listener {
	l.listenersMu.RLock()
	defer l.listenersMu.RUnlock()
	out := make([]Listener, 0, len(l.listeners))
	for _, ls := range l.listeners {
		out = append(out, ls)
	}
	return out
}

func (l *Link) emitJoint(frame protocol.JointFrame, side protocol.Laterality) {
	for _, ls := range l.snapshotListeners() {
		if ls.Joint != nil {
			ls.Joint(frame, side)
		}
	}
}

func (l *Link) emitRaw(frame protocol.RawFrame, side protocol.Laterality) {
	for _, ls := range l.snapshotListeners() {
		if ls.Raw != nil {
			ls.Raw(frame, side)
		}
	}
}

func (l *Link) emitDeviceInfo(info protocol.DeviceInfo) {
	for _, ls := range l.snapshotListeners() {
		if ls.DeviceInfo != nil {
			ls.DeviceInfo(info)
		}
	}
}

func (l *Link) emitState(from, to State) {
	for _, ls := range l.snapshotListeners() {
		if ls.State != nil {
			ls.State(from, to)
		}
	}
}

// deferLocked queues a notification to run once the link lock is released.
func (l *Link) deferLocked(fn func()) {
	l.notes = append(l.notes, fn)
}

func (l *Link) takeNotesLocked() []func() {
	notes := l.notes
	l.notes = nil
	return notes
}

func runNotes(notes []func()) {
	for _, fn := range notes {
		fn()
	}
}
