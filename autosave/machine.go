package autosave

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Machine is the autosave state machine. It performs no I/O; the Autosaver
// drives it from store notifications, timers and save results.
//
//	uninitialized --Loaded--> upToDate
//	upToDate|failed|uninitialized --Changed--> notUpToDate (blocked)
//	notUpToDate --Release--> notUpToDate (unblocked)
//	notUpToDate (unblocked) --Begin--> saving
//	saving --Succeeded(equal)--> upToDate
//	saving --Succeeded(differs)--> notUpToDate (unblocked)
//	saving --Failed--> failed
type Machine struct {
	mu   sync.Mutex
	view View
	now  func() time.Time

	listeners []func(View)
}

// NewMachine creates a machine in the uninitialized state. now may be nil.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{now: now}
}

// OnChange registers fn to be called with the new view after every transition.
func (m *Machine) OnChange(fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// View returns the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.View().Status
}

// transition applies fn under the lock and notifies listeners if it reports
// a change.
func (m *Machine) transition(fn func(v *View) bool) bool {
	m.mu.Lock()
	changed := fn(&m.view)
	view := m.view
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l(view)
		}
	}
	return changed
}

func (m *Machine) notUpToDateText(last time.Time) string {
	if last.IsZero() {
		return "not up to date"
	}
	return "not up to date as of " + last.Format(TimestampLayout)
}

// Loaded records a successful load of the system from the backend. lastSave
// is the backend's last save time; zero means now.
func (m *Machine) Loaded(lastSave time.Time) {
	if lastSave.IsZero() {
		lastSave = m.now()
	}
	m.transition(func(v *View) bool {
		*v = View{
			Status:      StatusUpToDate,
			LastSave:    lastSave,
			Initialized: true,
		}
		return true
	})
}

// Changed records a user edit. It reports whether the status moved to
// notUpToDate.
func (m *Machine) Changed() bool {
	return m.transition(func(v *View) bool {
		if v.Status == StatusNotUpToDate || v.Status == StatusSaving {
			return false
		}
		v.Status = StatusNotUpToDate
		v.HelperText = m.notUpToDateText(v.LastSave)
		v.Blocked = true
		return true
	})
}

// Release lifts the hold placed by an edit, allowing the next Begin.
func (m *Machine) Release() {
	m.transition(func(v *View) bool {
		if !v.Blocked {
			return false
		}
		v.Blocked = false
		return true
	})
}

// Begin starts a save round if the state permits one. The caller must save
// and then report Succeeded or Failed exactly once when Begin returns true.
func (m *Machine) Begin() bool {
	return m.transition(func(v *View) bool {
		if v.Status != StatusNotUpToDate || v.Blocked {
			return false
		}
		v.Status = StatusSaving
		v.HelperText = ""
		return true
	})
}

// BeginNow is Begin for an explicit user save: it lifts the hold and also
// retries after a failure.
func (m *Machine) BeginNow() bool {
	return m.transition(func(v *View) bool {
		if v.Status != StatusNotUpToDate && v.Status != StatusFailed {
			return false
		}
		v.Blocked = false
		v.Status = StatusSaving
		v.HelperText = ""
		return true
	})
}

// Succeeded completes a save round. converged reports whether the saved
// snapshot still matches the live diagram.
func (m *Machine) Succeeded(converged bool) {
	now := m.now()
	m.transition(func(v *View) bool {
		if v.Status != StatusSaving {
			return false
		}
		v.LastError = nil
		if converged {
			v.Status = StatusUpToDate
			v.HelperText = ""
			v.LastSave = now
			v.Blocked = false
			return true
		}
		// Edits landed while the save was in flight. The next natural
		// trigger saves them.
		v.Status = StatusNotUpToDate
		v.HelperText = m.notUpToDateText(v.LastSave)
		v.Blocked = false
		return true
	})
}

// Failed completes a save round with an error.
func (m *Machine) Failed(err error) {
	m.transition(func(v *View) bool {
		if v.Status != StatusSaving {
			return false
		}
		v.Status = StatusFailed
		v.HelperText = fmt.Sprintf("save failed: %v", err)
		v.LastError = err
		v.Blocked = false
		return true
	})
}

// Reset returns the machine to the uninitialized state.
func (m *Machine) Reset() {
	m.transition(func(v *View) bool {
		*v = View{}
		return true
	})
}
