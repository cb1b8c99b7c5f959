package autosave

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine(clock)
	assert.Equal(t, StatusUninitialized, m.Status())

	last := fixedNow.Add(-time.Hour)
	m.Loaded(last)
	v := m.View()
	assert.Equal(t, StatusUpToDate, v.Status)
	assert.True(t, v.Initialized)
	assert.Equal(t, last, v.LastSave)

	assert.True(t, m.Changed())
	v = m.View()
	assert.Equal(t, StatusNotUpToDate, v.Status)
	assert.True(t, v.Blocked)
	assert.Equal(t, "not up to date as of 2024-05-17 08:30:00", v.HelperText)

	// Blocked: no save yet.
	assert.False(t, m.Begin())

	// A second edit changes nothing.
	assert.False(t, m.Changed())

	m.Release()
	assert.False(t, m.View().Blocked)
	assert.True(t, m.Begin())
	assert.Equal(t, StatusSaving, m.Status())
	assert.Empty(t, m.View().HelperText)

	// Edits during saving do not leave the saving state.
	assert.False(t, m.Changed())
	assert.Equal(t, StatusSaving, m.Status())

	m.Succeeded(true)
	v = m.View()
	assert.Equal(t, StatusUpToDate, v.Status)
	assert.Equal(t, fixedNow, v.LastSave)
	assert.Empty(t, v.HelperText)
}

func TestMachine_SucceededWithDrift(t *testing.T) {
	m := NewMachine(clock)
	m.Loaded(fixedNow)
	m.Changed()
	m.Release()
	m.Begin()

	m.Succeeded(false)
	v := m.View()
	assert.Equal(t, StatusNotUpToDate, v.Status)
	assert.False(t, v.Blocked)
	assert.Contains(t, v.HelperText, "not up to date")

	// The next trigger may save right away.
	assert.True(t, m.Begin())
}

func TestMachine_Failure(t *testing.T) {
	m := NewMachine(clock)
	m.Loaded(fixedNow)
	m.Changed()
	m.Release()
	m.Begin()

	m.Failed(errors.New("connection refused"))
	v := m.View()
	assert.Equal(t, StatusFailed, v.Status)
	assert.Contains(t, v.HelperText, "connection refused")
	assert.EqualError(t, v.LastError, "connection refused")

	// The idle trigger does not retry; an explicit save does.
	assert.False(t, m.Begin())
	assert.True(t, m.BeginNow())
	assert.Equal(t, StatusSaving, m.Status())
}

func TestMachine_EditAfterFailure(t *testing.T) {
	m := NewMachine(clock)
	m.Loaded(fixedNow)
	m.Changed()
	m.Release()
	m.Begin()
	m.Failed(errors.New("boom"))

	assert.True(t, m.Changed())
	assert.Equal(t, StatusNotUpToDate, m.Status())
	assert.True(t, m.View().Blocked)
}

func TestMachine_BeginNowIgnoresHold(t *testing.T) {
	m := NewMachine(clock)
	m.Loaded(fixedNow)
	assert.False(t, m.BeginNow(), "nothing to save")

	m.Changed()
	assert.True(t, m.BeginNow())
	assert.False(t, m.View().Blocked)
}

func TestMachine_ResultsOutsideSavingAreIgnored(t *testing.T) {
	m := NewMachine(clock)
	m.Loaded(fixedNow)

	m.Succeeded(false)
	m.Failed(errors.New("late"))
	assert.Equal(t, StatusUpToDate, m.Status())
}

func TestMachine_OnChange(t *testing.T) {
	m := NewMachine(clock)
	var seen []Status
	m.OnChange(func(v View) { seen = append(seen, v.Status) })

	m.Loaded(fixedNow)
	m.Changed()
	m.Changed()
	m.Release()
	m.Begin()
	m.Succeeded(true)

	assert.Equal(t, []Status{
		StatusUpToDate,
		StatusNotUpToDate,
		StatusNotUpToDate, // release
		StatusSaving,
		StatusUpToDate,
	}, seen)
}

func TestMachine_HelperWithoutPreviousSave(t *testing.T) {
	m := NewMachine(clock)
	m.Changed()
	assert.Equal(t, "not up to date", m.View().HelperText)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "upToDate", StatusUpToDate.String())
	assert.Equal(t, "notUpToDate", StatusNotUpToDate.String())
	assert.Equal(t, "unknown", Status(42).String())
}
