package wasm

import "github.com/pulseengine/wrt-sub004/internal/coreerr"

var errIndexOutOfRange = coreerr.ErrIndexOutOfRange
