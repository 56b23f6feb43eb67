package air

// Framer cuts candidate frames out of an unbounded byte stream. It anchors on
// FrameHeader, then collects the next FrameLength-1 bytes whatever their value
// (the protocol has no escaping, so a header value inside a frame is data).
//
// Input may arrive in arbitrary chunks; a partially collected frame survives
// until more bytes are fed. Framer is not safe for concurrent use.
type Framer struct {
	pending []byte
	frame   Frame
	n       int
	dropped uint64
}

func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends bytes in arrival order.
func (f *Framer) Feed(p []byte) {
	f.pending = append(f.pending, p...)
}

// Next returns the next candidate frame. It returns false when the buffered
// bytes do not complete a frame yet; collection progress is kept.
func (f *Framer) Next() (Frame, bool) {
	i := 0
	for ; i < len(f.pending); i++ {
		b := f.pending[i]
		if f.n == 0 {
			if b != FrameHeader {
				f.dropped++
				continue
			}
		}
		f.frame[f.n] = b
		f.n++
		if f.n == FrameLength {
			f.consume(i + 1)
			f.n = 0
			return f.frame, true
		}
	}
	f.consume(i)
	return Frame{}, false
}

// Reject hands back the tail of a rejected frame so that scanning resumes at
// the byte following its header. A real header hidden inside a corrupted frame
// is then found instead of being skipped with it.
func (f *Framer) Reject(frame Frame) {
	rest := make([]byte, 0, FrameLength-1+len(f.pending)+f.n)
	rest = append(rest, frame[1:]...)
	rest = append(rest, f.frame[:f.n]...)
	rest = append(rest, f.pending...)
	f.pending = rest
	f.n = 0
}

// Buffered reports how many bytes are held, including a partial frame.
func (f *Framer) Buffered() int {
	return len(f.pending) + f.n
}

// Dropped reports how many bytes were discarded while seeking a header.
func (f *Framer) Dropped() uint64 {
	return f.dropped
}

// Reset discards buffered bytes and any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
	f.n = 0
}

func (f *Framer) consume(n int) {
	if n == len(f.pending) {
		f.pending = f.pending[:0]
		return
	}
	f.pending = append(f.pending[:0], f.pending[n:]...)
}
