//go:build windows

package transports

import (
    "intentlog/pkg/transport"
    "intentlog/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
