package results

// Report is the serialized form of an Outcome used by the CLI and server.
type Report struct {
	Kind    string   `json:"kind" yaml:"kind"`
	Code    int32    `json:"code" yaml:"code"`
	Symbols []Symbol `json:"symbols" yaml:"symbols"`
}

// Report converts o for output. Symbols is never nil.
func (o Outcome) Report() Report {
	syms := o.Symbols
	if syms == nil {
		syms = []Symbol{}
	}
	return Report{Kind: o.Kind.String(), Code: o.Kind.Code(), Symbols: syms}
}
