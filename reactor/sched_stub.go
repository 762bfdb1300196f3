//go:build !linux

package reactor

import "errors"

// setFIFOScheduling reports that realtime scheduling is unsupported here.
func setFIFOScheduling() error {
	return errors.New("not supported")
}
