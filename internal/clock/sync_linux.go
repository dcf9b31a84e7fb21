//go:build linux

package clock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// timeError is the adjtimex return state for an unsynchronized clock.
const timeError = 5

// kernelSynced reports whether the kernel considers the system clock
// synchronized, the same STA_UNSYNC check timedatectl uses.
func kernelSynced() (bool, error) {
	var tx unix.Timex
	state, err := unix.Adjtimex(&tx)
	if err != nil {
		return false, fmt.Errorf("adjtimex: %w", err)
	}
	if state == timeError {
		return false, nil
	}
	return tx.Status&unix.STA_UNSYNC == 0, nil
}
