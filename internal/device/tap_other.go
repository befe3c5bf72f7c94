//go:build !linux

package device

import "errors"

// TAP is only available on Linux.
type TAP struct{}

// OpenTAP always fails on this platform.
func OpenTAP(name string) (*TAP, error) {
	return nil, errors.New("tap devices require linux")
}

func (t *TAP) Name() string                     { return "" }
func (t *TAP) Start(dev *Device, nic NIC) error { return errors.New("tap devices require linux") }
func (t *TAP) Transmit()                        {}
func (t *TAP) Close() error                     { return nil }
