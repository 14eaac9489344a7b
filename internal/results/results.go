// Package results turns a bridge result handle into a DetectionOutcome using
// the two-phase probe/fill retrieval protocol.
package results

import (
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
)

// Point is one corner of a decoded symbol, in source image coordinates.
type Point struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
}

// Symbol is one decoded QR code. Points keep the engine's order.
type Symbol struct {
	Text   string  `json:"text" yaml:"text"`
	Points []Point `json:"points" yaml:"points"`
}

// Outcome is either a success carrying zero or more symbols, or a failure
// carrying a non-Ok kind. A success with no symbols means nothing was found.
type Outcome struct {
	Symbols []Symbol
	Kind    errcode.Kind
}

// Success returns a successful outcome.
func Success(symbols []Symbol) Outcome {
	if symbols == nil {
		symbols = []Symbol{}
	}
	return Outcome{Symbols: symbols, Kind: errcode.Ok}
}

// Failure returns a failed outcome. Ok is not a failure kind and is
// reported as Unknown.
func Failure(kind errcode.Kind) Outcome {
	if kind == errcode.Ok {
		kind = errcode.Unknown
	}
	return Outcome{Kind: kind}
}

// OK reports whether o is a success.
func (o Outcome) OK() bool { return o.Kind == errcode.Ok }

// Err returns nil for a success and an *errcode.Error otherwise.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return errcode.New("detect", o.Kind)
}

// Scale multiplies every point by factor and returns o.
func (o Outcome) Scale(factor float32) Outcome {
	if factor == 1 {
		return o
	}
	for i := range o.Symbols {
		for j := range o.Symbols[i].Points {
			o.Symbols[i].Points[j].X *= factor
			o.Symbols[i].Points[j].Y *= factor
		}
	}
	return o
}

// Texts returns the decoded strings in order.
func (o Outcome) Texts() []string {
	out := make([]string, len(o.Symbols))
	for i, s := range o.Symbols {
		out[i] = s.Text
	}
	return out
}
