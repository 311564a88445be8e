//go:build windows

package keyring

import "os"

// lockFile is a no-op on Windows; concurrent first-time init there can race.
func lockFile(_ *os.File) (unlock func(), err error) {
	return func() {}, nil
}
