package session

import (
	ncerr "fluxctl/internal/errors"
	"fluxctl/internal/protocol"
)

// binaryReceiver reassembles one binary payload of a declared size from
// consecutive binary frames.
type binaryReceiver struct {
	mimeType string
	size     int64
	chunks   [][]byte
	buffered int64
	consumed bool
}

func newBinaryReceiver(mimeType string, size int64) *binaryReceiver {
	return &binaryReceiver{mimeType: mimeType, size: size}
}

// Feed appends chunk.  It fails with ErrBufferFull, leaving the receiver
// unchanged, when the chunk would overflow the declared size.
func (r *binaryReceiver) Feed(chunk []byte) error {
	if r.buffered+int64(len(chunk)) > r.size {
		return ncerr.Protocol("feed", ncerr.ErrBufferFull,
			"buffered=%d received=%d size=%d", r.buffered, len(chunk), r.size)
	}
	r.chunks = append(r.chunks, chunk)
	r.buffered += int64(len(chunk))
	return nil
}

// Finalize joins the chunks into one payload.  It fails with
// ErrBrokenStream unless exactly the declared size was received.
func (r *binaryReceiver) Finalize() (protocol.Binary, error) {
	if r.consumed {
		return protocol.Binary{}, ncerr.Protocol("finalize", ncerr.ErrBrokenStream, "already finalized")
	}
	if r.buffered != r.size {
		return protocol.Binary{}, ncerr.Protocol("finalize", ncerr.ErrBrokenStream,
			"buffered=%d size=%d", r.buffered, r.size)
	}
	data := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	r.chunks = nil
	r.consumed = true
	return protocol.Binary{MimeType: r.mimeType, Data: data}, nil
}

// Buffered returns the number of bytes received so far.
func (r *binaryReceiver) Buffered() int64 { return r.buffered }

// Size returns the declared payload size.
func (r *binaryReceiver) Size() int64 { return r.size }
