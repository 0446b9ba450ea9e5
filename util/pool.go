package util

import "sync"

// bufPool hands out relay buffers so every forwarded connection does
// not allocate two fresh 32 KiB slices.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf borrows a DefaultBufSize buffer.  Return it with [PutBuf].
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf returns a borrowed buffer.  Nil and short buffers are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || len(*buf) != DefaultBufSize {
		return
	}
	bufPool.Put(buf)
}
