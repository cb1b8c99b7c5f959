package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) record(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func TestDebouncer_DeliversLastValue(t *testing.T) {
	var r recorder
	d := New(20*time.Millisecond, r.record)

	d.Call("a")
	d.Call("ab")
	d.Call("abc")
	assert.True(t, d.Pending())

	require.Eventually(t, func() bool { return len(r.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"abc"}, r.get())
	assert.False(t, d.Pending())

	// Nothing else shows up later.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, r.get(), 1)
}

func TestDebouncer_Flush(t *testing.T) {
	var r recorder
	d := New(time.Hour, r.record)

	assert.False(t, d.Flush())

	d.Call("x")
	d.Call("y")
	assert.True(t, d.Flush())
	assert.Equal(t, []string{"y"}, r.get())
	assert.False(t, d.Flush())
}

func TestDebouncer_Cancel(t *testing.T) {
	var r recorder
	d := New(10*time.Millisecond, r.record)

	d.Call("dropped")
	d.Cancel()
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, r.get())
}

func TestDebouncer_StopIgnoresLaterCalls(t *testing.T) {
	var n atomic.Int32
	d := New(5*time.Millisecond, func(int) { n.Add(1) })

	d.Stop()
	d.Call(1)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_QuietPeriodRestarts(t *testing.T) {
	var r recorder
	d := New(150*time.Millisecond, r.record)

	for i := 0; i < 5; i++ {
		d.Call("tick")
		time.Sleep(5 * time.Millisecond)
	}
	assert.Empty(t, r.get())

	require.Eventually(t, func() bool { return len(r.get()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_Peek(t *testing.T) {
	d := New(time.Hour, func(string) {})
	defer d.Stop()

	_, ok := d.Peek()
	assert.False(t, ok)

	d.Call("draft")
	v, ok := d.Peek()
	assert.True(t, ok)
	assert.Equal(t, "draft", v)

	d.Cancel()
	_, ok = d.Peek()
	assert.False(t, ok)
}
