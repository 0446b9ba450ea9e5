package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// closeWriter is implemented by *net.TCPConn and SSH channel conns.
type closeWriter interface {
	CloseWrite() error
}

// Bridge copies data bidirectionally between two connections until both
// directions finish, one fails, or the context is cancelled.  When one
// side reaches EOF the other side's write half is closed so its peer
// sees end of input while replies keep flowing back.  Both connections
// are closed before it returns.  It reports the bytes moved in each
// direction.
func Bridge(ctx context.Context, a, b net.Conn) (aToB, bToA int64) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var open atomic.Int32
	open.Store(2)

	pipe := func(dst, src net.Conn, n *int64) {
		defer wg.Done()
		var err error
		*n, err = copyPooled(dst, src)
		if err == nil {
			// Half-close dst; tear down only once both directions are done.
			if cw, ok := dst.(closeWriter); ok && cw.CloseWrite() == nil && open.Add(-1) > 0 {
				return
			}
		}
		cancel()
	}

	wg.Add(2)
	go pipe(b, a, &aToB)
	go pipe(a, b, &bToA)

	<-ctx.Done()
	a.Close()
	b.Close()
	wg.Wait()
	return aToB, bToA
}

// copyPooled is io.CopyBuffer with a buffer borrowed from BufPool.
func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	n, err := io.CopyBuffer(dst, src, *buf)
	if IsHarmless(err) {
		err = nil
	}
	return n, err
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
