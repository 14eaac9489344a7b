//go:build cgo && zzt_native

package bridge

/*
#cgo LDFLAGS: -lzzt_qrcode
#include <stdint.h>
#include <stdlib.h>
#include <zzt_qrcode/qrcode.h>

static inline zzt_qrcode_detector_h to_detector(uintptr_t h) { return (zzt_qrcode_detector_h)h; }
static inline zzt_qrcode_result_h to_result(uintptr_t h) { return (zzt_qrcode_result_h)h; }
*/
import "C"

import (
	"unsafe"

	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
)

type native struct{}

// NewNative returns the cgo binding to libzzt_qrcode.
func NewNative() (Bridge, error) {
	return native{}, nil
}

func kind(rc C.zzt_qrcode_error_t) errcode.Kind {
	return errcode.FromCode(int32(rc))
}

func (native) CreateDetector() DetectorHandle {
	return DetectorHandle(uintptr(unsafe.Pointer(C.zzt_qrcode_create_detector())))
}

func (native) ReleaseDetector(h DetectorHandle) errcode.Kind {
	return kind(C.zzt_qrcode_release_detector(C.to_detector(C.uintptr_t(h))))
}

func (native) DetectPath(h DetectorHandle, path string) (ResultHandle, errcode.Kind) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var out C.zzt_qrcode_result_h
	rc := C.zzt_qrcode_detect_and_decode_path_u8(C.to_detector(C.uintptr_t(h)), (*C.char8_t)(unsafe.Pointer(cpath)), &out)
	return ResultHandle(uintptr(unsafe.Pointer(out))), kind(rc)
}

func (native) DetectBytes(h DetectorHandle, data []byte) (ResultHandle, errcode.Kind) {
	if len(data) == 0 {
		return NoResult, errcode.InvalidArgument
	}
	var out C.zzt_qrcode_result_h
	rc := C.zzt_qrcode_detect_and_decode_data(C.to_detector(C.uintptr_t(h)),
		(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data)), &out)
	return ResultHandle(uintptr(unsafe.Pointer(out))), kind(rc)
}

func (native) DetectPixels(h DetectorHandle, px pixels.Descriptor) (ResultHandle, errcode.Kind) {
	if len(px.Data) == 0 {
		return NoResult, errcode.InvalidArgument
	}
	var out C.zzt_qrcode_result_h
	rc := C.zzt_qrcode_detect_and_decode_pixels(C.to_detector(C.uintptr_t(h)),
		(*C.uchar)(unsafe.Pointer(&px.Data[0])), C.zzt_qrcode_pixel_format_t(px.Format),
		C.int(px.Width), C.int(px.Height), C.int(px.Stride), &out)
	return ResultHandle(uintptr(unsafe.Pointer(out))), kind(rc)
}

func (native) ReleaseResult(r ResultHandle) errcode.Kind {
	return kind(C.zzt_qrcode_release_result(C.to_result(C.uintptr_t(r))))
}

func (native) ResultSize(r ResultHandle) (int, errcode.Kind) {
	var n C.int
	rc := C.zzt_qrcode_get_result_size(C.to_result(C.uintptr_t(r)), &n)
	return int(n), kind(rc)
}

func (native) ResultText(r ResultHandle, index int, buf []byte) (int, errcode.Kind) {
	var ptr *C.char
	if len(buf) > 0 {
		ptr = (*C.char)(unsafe.Pointer(&buf[0]))
	}
	n := C.int(len(buf))
	rc := C.zzt_qrcode_get_result_text(C.to_result(C.uintptr_t(r)), C.int(index), ptr, &n)
	return int(n), kind(rc)
}

func (native) ResultPoints(r ResultHandle, index int, buf []float32) (int, errcode.Kind) {
	var ptr *C.float
	if len(buf) > 0 {
		ptr = (*C.float)(unsafe.Pointer(&buf[0]))
	}
	n := C.int(len(buf))
	rc := C.zzt_qrcode_get_result_points(C.to_result(C.uintptr_t(r)), C.int(index), ptr, &n)
	return int(n), kind(rc)
}
