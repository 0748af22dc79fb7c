package filesys

import "log"

// Debug gates the package's diagnostic logging. It mirrors the many
// commented-out log.Printf calls a from-scratch reimplementation tends to
// accumulate: flip it on when chasing a buffer-cache or growth bug, leave it
// off otherwise.
var Debug = false

func debugf(format string, args ...any) {
	if Debug {
		log.Printf("filesys: "+format, args...)
	}
}
