//go:build !windows

package transports

import (
    "fmt"

    "intentlog/pkg/transport"
)

func newWinPipeTransport() (transport.Transport, error) {
    return nil, fmt.Errorf("%w: winpipe is only available on windows", ErrUnknownKind)
}
