//go:build !unix

package session

import "os"

// lockFile is a no-op where fcntl locks are unavailable; concurrent logins
// on such platforms race on the final rename.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
