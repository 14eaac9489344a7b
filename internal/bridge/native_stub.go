//go:build !cgo || !zzt_native

package bridge

// NewNative returns the cgo binding to libzzt_qrcode. This build does not
// link it.
func NewNative() (Bridge, error) {
	return nil, ErrNativeUnavailable
}
