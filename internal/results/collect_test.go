package results

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/bridge/bridgetest"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
)

func detectWith(t *testing.T, fake *bridgetest.Fake) bridge.ResultHandle {
	t.Helper()
	h := fake.CreateDetector()
	r, k := fake.DetectBytes(h, []byte{1})
	require.Equal(t, errcode.Ok, k)
	return r
}

func TestCollect_TwoSymbolsInOrder(t *testing.T) {
	fake := bridgetest.New(
		bridgetest.Symbol{Text: "first", Points: []float32{0, 0, 10, 0, 10, 10, 0, 10}},
		bridgetest.Symbol{Text: "second", Points: []float32{20, 20, 30, 20, 30, 30, 20, 30}},
	)
	out := Collect(fake, detectWith(t, fake))

	require.True(t, out.OK())
	require.Len(t, out.Symbols, 2)
	assert.Equal(t, []string{"first", "second"}, out.Texts())
	assert.Equal(t, []Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}, out.Symbols[0].Points)
	assert.Equal(t, Point{X: 30, Y: 30}, out.Symbols[1].Points[2])
	assert.NoError(t, out.Err())
}

func TestCollect_ProbeThenFill(t *testing.T) {
	fake := bridgetest.New(bridgetest.Symbol{Text: "abc", Points: []float32{1, 2}})
	Collect(fake, detectWith(t, fake))

	var textCalls, pointCalls []bridgetest.Call
	for _, c := range fake.Calls() {
		switch c.Op {
		case bridgetest.OpResultText:
			textCalls = append(textCalls, c)
		case bridgetest.OpResultPoints:
			pointCalls = append(pointCalls, c)
		}
	}
	require.Len(t, textCalls, 2)
	assert.True(t, textCalls[0].Probe)
	assert.False(t, textCalls[1].Probe)
	require.Len(t, pointCalls, 2)
	assert.True(t, pointCalls[0].Probe)
	assert.False(t, pointCalls[1].Probe)
}

func TestCollect_InvalidIndexDiscardsEarlierSymbols(t *testing.T) {
	fake := bridgetest.New(bridgetest.Symbol{Text: "a"}, bridgetest.Symbol{Text: "b"})
	fake.FailAt(bridgetest.OpResultText, 1, errcode.InvalidIndex)

	out := Collect(fake, detectWith(t, fake))
	assert.False(t, out.OK())
	assert.Equal(t, errcode.InvalidIndex, out.Kind)
	assert.Nil(t, out.Symbols)
	assert.ErrorIs(t, out.Err(), errcode.Sentinel(errcode.InvalidIndex))
}

func TestCollect_FailureAtEachPhase(t *testing.T) {
	tests := []struct {
		name string
		op   bridgetest.Op
		kind errcode.Kind
	}{
		{"size", bridgetest.OpResultSize, errcode.InvalidHandle},
		{"text", bridgetest.OpResultText, errcode.OutOfMemory},
		{"points", bridgetest.OpResultPoints, errcode.DecodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := bridgetest.New(bridgetest.Symbol{Text: "x", Points: []float32{1, 1}})
			fake.Fail(tt.op, tt.kind)
			out := Collect(fake, detectWith(t, fake))
			assert.Equal(t, tt.kind, out.Kind)
			assert.Empty(t, out.Symbols)
		})
	}
}

func TestCollect_NothingFound(t *testing.T) {
	fake := bridgetest.New()
	out := Collect(fake, detectWith(t, fake))
	assert.True(t, out.OK())
	assert.NotNil(t, out.Symbols)
	assert.Empty(t, out.Symbols)
	assert.Equal(t, 0, fake.Count(bridgetest.OpResultText))
}

func TestCollect_EmptyFields(t *testing.T) {
	fake := bridgetest.New(bridgetest.Symbol{Text: ""})
	out := Collect(fake, detectWith(t, fake))
	require.True(t, out.OK())
	require.Len(t, out.Symbols, 1)
	assert.Empty(t, out.Symbols[0].Text)
	assert.Empty(t, out.Symbols[0].Points)
	// Zero points probe Ok with size 0, so no fill call is made.
	assert.Equal(t, 1, fake.Count(bridgetest.OpResultPoints))
}

func TestCollect_TextExcludesTerminator(t *testing.T) {
	long := strings.Repeat("q", 5000)
	fake := bridgetest.New(bridgetest.Symbol{Text: long}, bridgetest.Symbol{Text: "héllo"})
	out := Collect(fake, detectWith(t, fake))
	require.True(t, out.OK())
	assert.Len(t, out.Symbols[0].Text, 5000)
	assert.Equal(t, "héllo", out.Symbols[1].Text)
	assert.NotContains(t, out.Symbols[1].Text, "\x00")
}

func TestCollect_ProbeIsIdempotent(t *testing.T) {
	fake := bridgetest.New(bridgetest.Symbol{Text: "idempotent", Points: []float32{1, 2, 3, 4}})
	r := detectWith(t, fake)

	n1, k1 := fake.ResultText(r, 0, nil)
	n2, k2 := fake.ResultText(r, 0, nil)
	assert.Equal(t, n1, n2)
	assert.Equal(t, k1, k2)
	assert.Equal(t, len("idempotent")+1, n1)

	p1, _ := fake.ResultPoints(r, 0, nil)
	p2, _ := fake.ResultPoints(r, 0, nil)
	assert.Equal(t, 4, p1)
	assert.Equal(t, p1, p2)

	assert.True(t, Collect(fake, r).OK())
}

func TestFetch_ProtocolViolations(t *testing.T) {
	// BufferTooSmall with no size cannot be satisfied.
	k := fetch(byteScratch, func([]byte) (int, errcode.Kind) { return 0, errcode.BufferTooSmall }, func([]byte) {})
	assert.Equal(t, errcode.Unknown, k)

	// A fill that reports more than it was given is rejected.
	calls := 0
	k = fetch(floatScratch, func(buf []float32) (int, errcode.Kind) {
		calls++
		if buf == nil {
			return 2, errcode.BufferTooSmall
		}
		return len(buf) + 1, errcode.Ok
	}, func([]float32) { t.Fatal("use must not run") })
	assert.Equal(t, errcode.Unknown, k)
	assert.Equal(t, 2, calls)
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "", decodeText(nil))
	assert.Equal(t, "", decodeText([]byte{0}))
	assert.Equal(t, "ok", decodeText([]byte{'o', 'k', 0}))
	assert.Equal(t, "a�b", decodeText([]byte{'a', 0xff, 'b', 0}))
}

func TestPairPoints(t *testing.T) {
	assert.Equal(t, []Point{{1, 2}, {3, 4}}, pairPoints([]float32{1, 2, 3, 4, 5}))
	assert.Empty(t, pairPoints(nil))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, errcode.Unknown, Failure(errcode.Ok).Kind)

	out := Success([]Symbol{{Text: "s", Points: []Point{{2, 4}}}}).Scale(0.5)
	assert.Equal(t, Point{X: 1, Y: 2}, out.Symbols[0].Points[0])
	assert.Equal(t, out, out.Scale(1))
}

func TestReport(t *testing.T) {
	r := Failure(errcode.DecodeFailed).Report()
	assert.Equal(t, "decode_failed", r.Kind)
	assert.Equal(t, int32(-4), r.Code)
	assert.NotNil(t, r.Symbols)

	r = Success([]Symbol{{Text: "x"}}).Report()
	assert.Equal(t, "ok", r.Kind)
	assert.Zero(t, r.Code)
	assert.Len(t, r.Symbols, 1)
}
