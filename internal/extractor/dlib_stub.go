//go:build !dlib

package extractor

import "errors"

// DlibAvailable reports whether the binary was built with the dlib runtime.
const DlibAvailable = false

var errDlibUnavailable = errors.New("built without dlib support (rebuild with -tags dlib)")

// OpenDlib returns an OpenDirFunc that always fails in builds without dlib.
func OpenDlib(maxSide uint) OpenDirFunc {
	return func(dir string) (Model, error) {
		return nil, errDlibUnavailable
	}
}
