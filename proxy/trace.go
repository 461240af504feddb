package proxy

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/layout"
)

// Trace is the read-only trace[name]/nextTrace()/resetTrace()/
// getTraceRecordSize() view from spec §6: a second Proxy rooted at the
// ring buffer's current record, with a cursor that advances by one
// record and wraps at TraceEnd, mirroring the live-state proxy's read
// path rather than reimplementing width dispatch.
type Trace struct {
	view   *Proxy
	lay    *layout.Struct
	cursor uint32
}

// NewTrace opens a trace reader at the oldest ring slot.
func NewTrace(mem api.Memory, lay *layout.Struct) *Trace {
	t := &Trace{lay: lay}
	t.resetCursor()
	t.view = &Proxy{mem: mem, lay: lay, base: t.cursor}
	return t
}

func (t *Trace) resetCursor() {
	t.cursor = t.lay.TraceOffset
}

// Get reads name from the record the cursor currently points at.
func (t *Trace) Get(name string) (any, error) {
	return t.view.Get(name)
}

// NextTrace advances the cursor to the next record, wrapping at TraceEnd.
func (t *Trace) NextTrace() {
	t.cursor += t.lay.OutputBytes
	if t.cursor >= t.lay.TraceEnd {
		t.cursor = t.lay.TraceOffset
	}
	t.view.base = t.cursor
}

// ResetTrace returns the cursor to the ring's first record.
func (t *Trace) ResetTrace() {
	t.resetCursor()
	t.view.base = t.cursor
}

// GetTraceRecordSize returns the fixed byte size of one trace record.
func (t *Trace) GetTraceRecordSize() uint32 {
	return t.lay.OutputBytes
}

// AtRecord seeks directly to the record at index (0-based from
// TraceOffset), for hosts that keep their own cursor.
func (t *Trace) AtRecord(index int) error {
	if index < 0 || t.lay.OutputBytes == 0 {
		return errors.InvalidInput(errors.PhaseRuntime, "trace: record index out of range")
	}
	offset := t.lay.TraceOffset + uint32(index)*t.lay.OutputBytes
	if offset >= t.lay.TraceEnd {
		return errors.InvalidInput(errors.PhaseRuntime, "trace: record index out of range")
	}
	t.cursor = offset
	t.view.base = offset
	return nil
}
