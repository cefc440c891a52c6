package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when a source cannot deliver the requested format.
	ErrUnsupportedFormat = errors.New("unsupported capture format")
	// ErrDeviceStopped is returned by Read after the device stopped on its own.
	ErrDeviceStopped = errors.New("capture device stopped")
	// ErrNotOpen is returned by Read before Open succeeded.
	ErrNotOpen = errors.New("capture source not open")
)

// DeviceError reports a failure to open or read the capture device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
