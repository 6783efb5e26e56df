package multiplexer

const (
	bufInitSize  = 512
	bufGrowExtra = 512
)

// txBuffer holds encoded messages until the peer accepts them. Bytes in
// [read, committed) are ready to flush; [committed, write) belong to a
// message that is still being built.
type txBuffer struct {
	buf       []byte
	read      int
	committed int
	write     int
}

func newTxBuffer() txBuffer {
	return txBuffer{buf: make([]byte, bufInitSize)}
}

// reserve makes room for n more bytes and returns the slice to fill.
func (b *txBuffer) reserve(n int) []byte {
	if b.write+n > len(b.buf) {
		grown := make([]byte, len(b.buf)+n+bufGrowExtra)
		copy(grown, b.buf[:b.write])
		b.buf = grown
	}
	out := b.buf[b.write : b.write+n]
	b.write += n
	return out
}

func (b *txBuffer) commit() { b.committed = b.write }

// rollback drops a message that was never committed.
func (b *txBuffer) rollback() { b.write = b.committed }

func (b *txBuffer) unflushed() []byte { return b.buf[b.read:b.committed] }

func (b *txBuffer) pending() bool { return b.read < b.committed }

// consume marks n bytes as written and rewinds the cursors once drained.
func (b *txBuffer) consume(n int) {
	b.read += n
	if b.read == b.committed && b.committed == b.write {
		b.read, b.committed, b.write = 0, 0, 0
	}
}

// rxBuffer holds exactly one message being received.
type rxBuffer struct {
	buf []byte
}

func newRxBuffer() rxBuffer {
	return rxBuffer{buf: make([]byte, bufInitSize)}
}

// ensure returns a buffer of at least n bytes, preserving the first keep.
func (b *rxBuffer) ensure(n, keep int) []byte {
	if n > len(b.buf) {
		grown := make([]byte, len(b.buf)+n+bufGrowExtra)
		copy(grown, b.buf[:keep])
		b.buf = grown
	}
	return b.buf[:n]
}
