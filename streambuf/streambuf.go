// Package streambuf
// Author: momentics <momentics@gmail.com>
//
// StreamBuffer is a chunked FIFO byte buffer optimized for O(1)
// concatenation: append copies into the tail chunk, splice transfers
// ownership of another buffer's chunks in O(1), and peek/discard compose
// into a destructive read without ever reslicing the whole backing store.
//
// Chunks are recycled through a sync.Pool, following the buffer-reuse
// discipline of the framework's NUMA buffer pool (pool/bufferpool_linux.go
// in the wider example set), adapted here from a single fixed-size buffer
// into pool-backed fixed-size chunks threaded on a FIFO list.
package streambuf

import "sync"

const chunkSize = 4096

type chunk struct {
	data [chunkSize]byte
	// read/write mark the valid window [read, write) inside data.
	read, write int
	next        *chunk
}

var chunkPool = sync.Pool{
	New: func() any { return new(chunk) },
}

func getChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.read, c.write, c.next = 0, 0, nil
	return c
}

func putChunk(c *chunk) {
	c.next = nil
	chunkPool.Put(c)
}

// StreamBuffer is an ordered sequence of opaque byte chunks. The zero
// value is an empty, immediately usable buffer.
type StreamBuffer struct {
	head, tail *chunk
	size       int
}

// Size returns the total number of unread bytes currently buffered.
func (b *StreamBuffer) Size() int { return b.size }

// Empty reports whether the buffer currently holds no bytes.
func (b *StreamBuffer) Empty() bool { return b.size == 0 }

// Append copies p into the tail chunk, allocating new chunks from the pool
// as needed. It never retains p itself.
func (b *StreamBuffer) Append(p []byte) {
	for len(p) > 0 {
		if b.tail == nil || b.tail.write == chunkSize {
			c := getChunk()
			if b.tail == nil {
				b.head = c
			} else {
				b.tail.next = c
			}
			b.tail = c
		}
		n := copy(b.tail.data[b.tail.write:], p)
		b.tail.write += n
		p = p[n:]
		b.size += n
	}
}

// Splice transfers ownership of all of other's chunks into b in O(1),
// leaving other empty. This is the primitive TcpSession.send relies on to
// hand outbound bytes to the per-session buffer without copying.
func (b *StreamBuffer) Splice(other *StreamBuffer) {
	if other == nil || other.head == nil {
		return
	}
	if b.tail == nil {
		b.head = other.head
	} else {
		b.tail.next = other.head
	}
	b.tail = other.tail
	b.size += other.size
	other.head, other.tail, other.size = nil, nil, 0
}

// Peek copies up to len(dst) leading bytes into dst without mutating the
// buffer, returning the number of bytes copied.
func (b *StreamBuffer) Peek(dst []byte) int {
	copied := 0
	for c := b.head; c != nil && copied < len(dst); c = c.next {
		n := copy(dst[copied:], c.data[c.read:c.write])
		copied += n
	}
	return copied
}

// Discard removes up to n leading bytes, advancing a chunk's read cursor
// when only partially consumed and freeing chunks that become empty back
// to the pool. It returns the number of bytes actually discarded (less
// than n if the buffer held fewer bytes).
func (b *StreamBuffer) Discard(n int) int {
	discarded := 0
	for n > 0 && b.head != nil {
		avail := b.head.write - b.head.read
		if avail > n {
			b.head.read += n
			discarded += n
			b.size -= n
			n = 0
			break
		}
		discarded += avail
		b.size -= avail
		n -= avail
		dead := b.head
		b.head = b.head.next
		if b.head == nil {
			b.tail = nil
		}
		putChunk(dead)
	}
	return discarded
}
