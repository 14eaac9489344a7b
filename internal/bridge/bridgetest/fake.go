// Package bridgetest provides a scripted bridge.Bridge for tests. It records
// every call and can inject error kinds per operation and per result index.
package bridgetest

import (
	"sync"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
)

// Op names a bridge operation.
type Op string

const (
	OpCreate          Op = "create_detector"
	OpReleaseDetector Op = "release_detector"
	OpDetectPath      Op = "detect_path"
	OpDetectBytes     Op = "detect_bytes"
	OpDetectPixels    Op = "detect_pixels"
	OpReleaseResult   Op = "release_result"
	OpResultSize      Op = "result_size"
	OpResultText      Op = "result_text"
	OpResultPoints    Op = "result_points"
)

const (
	anyIndex    = -1
	firstHandle = 0x1000
)

// Symbol is what the fake reports for one decoded code.
type Symbol struct {
	Text   string
	Points []float32
}

// Call is one recorded invocation. Index is -1 for operations without one;
// Probe marks text/points calls made with a nil buffer.
type Call struct {
	Op     Op
	Handle uintptr
	Index  int
	Probe  bool
}

type failKey struct {
	op    Op
	index int
}

// Fake is a goroutine-safe in-memory bridge.
type Fake struct {
	mu        sync.Mutex
	symbols   []Symbol
	next      uintptr
	detectors map[bridge.DetectorHandle]bool
	results   map[bridge.ResultHandle][]Symbol
	failures  map[failKey]errcode.Kind
	hooks     map[Op]func()
	calls     []Call
	noCreate  bool
	lastPx    pixels.Descriptor
}

var _ bridge.Bridge = (*Fake)(nil)

// New returns a fake whose detections all report symbols.
func New(symbols ...Symbol) *Fake {
	return &Fake{
		symbols:   symbols,
		next:      firstHandle,
		detectors: make(map[bridge.DetectorHandle]bool),
		results:   make(map[bridge.ResultHandle][]Symbol),
		failures:  make(map[failKey]errcode.Kind),
		hooks:     make(map[Op]func()),
	}
}

// Fail makes every call to op return kind.
func (f *Fake) Fail(op Op, kind errcode.Kind) { f.FailAt(op, anyIndex, kind) }

// FailAt makes op return kind for one result index.
func (f *Fake) FailAt(op Op, index int, kind errcode.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[failKey{op, index}] = kind
}

// FailCreate makes CreateDetector return the sentinel handle.
func (f *Fake) FailCreate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noCreate = true
}

// OnCall runs fn inside every call to op, after it is recorded and outside
// the fake's lock. Tests use it to block or panic.
func (f *Fake) OnCall(op Op, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[op] = fn
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many times op was called.
func (f *Fake) Count(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// OpenResults returns the number of result handles not yet released.
func (f *Fake) OpenResults() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

// OpenDetectors returns the number of detector handles not yet released.
func (f *Fake) OpenDetectors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.detectors)
}

// LastPixels returns the descriptor passed to the most recent DetectPixels.
func (f *Fake) LastPixels() pixels.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPx
}

// record logs the call and returns the injected failure, if any.
func (f *Fake) record(c Call) errcode.Kind {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	k, ok := f.failures[failKey{c.Op, c.Index}]
	if !ok {
		k, ok = f.failures[failKey{c.Op, anyIndex}]
	}
	hook := f.hooks[c.Op]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return errcode.Ok
	}
	return k
}

func (f *Fake) CreateDetector() bridge.DetectorHandle {
	f.record(Call{Op: OpCreate, Index: anyIndex})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noCreate {
		return bridge.NoDetector
	}
	h := bridge.DetectorHandle(f.next)
	f.next++
	f.detectors[h] = true
	return h
}

func (f *Fake) ReleaseDetector(h bridge.DetectorHandle) errcode.Kind {
	if k := f.record(Call{Op: OpReleaseDetector, Handle: uintptr(h), Index: anyIndex}); k != errcode.Ok {
		return k
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.detectors[h] {
		return errcode.InvalidHandle
	}
	delete(f.detectors, h)
	return errcode.Ok
}

func (f *Fake) detect(op Op, h bridge.DetectorHandle) (bridge.ResultHandle, errcode.Kind) {
	if k := f.record(Call{Op: op, Handle: uintptr(h), Index: anyIndex}); k != errcode.Ok {
		return bridge.NoResult, k
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.detectors[h] {
		return bridge.NoResult, errcode.InvalidHandle
	}
	r := bridge.ResultHandle(f.next)
	f.next++
	f.results[r] = f.symbols
	return r, errcode.Ok
}

func (f *Fake) DetectPath(h bridge.DetectorHandle, _ string) (bridge.ResultHandle, errcode.Kind) {
	return f.detect(OpDetectPath, h)
}

func (f *Fake) DetectBytes(h bridge.DetectorHandle, _ []byte) (bridge.ResultHandle, errcode.Kind) {
	return f.detect(OpDetectBytes, h)
}

func (f *Fake) DetectPixels(h bridge.DetectorHandle, px pixels.Descriptor) (bridge.ResultHandle, errcode.Kind) {
	f.mu.Lock()
	f.lastPx = px
	f.mu.Unlock()
	return f.detect(OpDetectPixels, h)
}

func (f *Fake) ReleaseResult(r bridge.ResultHandle) errcode.Kind {
	// The handle is dropped even when a failure is injected, like a native
	// release that reports an error after freeing.
	k := f.record(Call{Op: OpReleaseResult, Handle: uintptr(r), Index: anyIndex})
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.results[r]
	delete(f.results, r)
	if k != errcode.Ok {
		return k
	}
	if !ok {
		return errcode.InvalidHandle
	}
	return errcode.Ok
}

func (f *Fake) ResultSize(r bridge.ResultHandle) (int, errcode.Kind) {
	if k := f.record(Call{Op: OpResultSize, Handle: uintptr(r), Index: anyIndex}); k != errcode.Ok {
		return 0, k
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	syms, ok := f.results[r]
	if !ok {
		return 0, errcode.InvalidHandle
	}
	return len(syms), errcode.Ok
}

func (f *Fake) symbol(r bridge.ResultHandle, index int) (Symbol, errcode.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	syms, ok := f.results[r]
	if !ok {
		return Symbol{}, errcode.InvalidHandle
	}
	if index < 0 || index >= len(syms) {
		return Symbol{}, errcode.InvalidIndex
	}
	return syms[index], errcode.Ok
}

// ResultText reports len(text)+1 and answers a probe with BufferTooSmall.
func (f *Fake) ResultText(r bridge.ResultHandle, index int, buf []byte) (int, errcode.Kind) {
	if k := f.record(Call{Op: OpResultText, Handle: uintptr(r), Index: index, Probe: buf == nil}); k != errcode.Ok {
		return 0, k
	}
	s, k := f.symbol(r, index)
	if k != errcode.Ok {
		return 0, k
	}
	need := len(s.Text) + 1
	if len(buf) < need {
		return need, errcode.BufferTooSmall
	}
	copy(buf, s.Text)
	buf[len(s.Text)] = 0
	return need, errcode.Ok
}

// ResultPoints reports the float count; an empty point list probes as Ok with 0.
func (f *Fake) ResultPoints(r bridge.ResultHandle, index int, buf []float32) (int, errcode.Kind) {
	if k := f.record(Call{Op: OpResultPoints, Handle: uintptr(r), Index: index, Probe: buf == nil}); k != errcode.Ok {
		return 0, k
	}
	s, k := f.symbol(r, index)
	if k != errcode.Ok {
		return 0, k
	}
	need := len(s.Points)
	if len(buf) < need {
		return need, errcode.BufferTooSmall
	}
	copy(buf, s.Points)
	return need, errcode.Ok
}
