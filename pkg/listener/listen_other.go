//go:build !unix

package listener

import "syscall"

// reuseAddress is a no-op where SO_REUSEADDR does not have the unix meaning.
func reuseAddress(_, _ string, _ syscall.RawConn) error {
	return nil
}
