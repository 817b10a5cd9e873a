package rpc

import "time"

func nowMicros() uint64 { return uint64(time.Now().UnixMicro()) }

func nowUnixSeconds() uint64 { return uint64(time.Now().Unix()) }
