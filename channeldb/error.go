package channeldb

import "fmt"

// ErrRecordNotFound is a sentinel for a missing record. No Store method
// returns it: Store's getters report absence as found == false.
var ErrRecordNotFound = fmt.Errorf("channeldb: record not found")
