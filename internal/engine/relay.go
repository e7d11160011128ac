package engine

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// RTP buffer size (MTU-friendly). Used with sync.Pool to avoid per-packet allocs.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// relay fans one remote track out to the local tracks of its consumers.
type relay struct {
	mu     sync.Mutex
	locals []*webrtc.TrackLocalStaticRTP
}

func newRelay() *relay {
	return &relay{}
}

func (r *relay) attach(t *webrtc.TrackLocalStaticRTP) {
	r.mu.Lock()
	r.locals = append(r.locals, t)
	r.mu.Unlock()
}

func (r *relay) detach(t *webrtc.TrackLocalStaticRTP) {
	r.mu.Lock()
	for i, l := range r.locals {
		if l == t {
			r.locals = append(r.locals[:i], r.locals[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

// run reads the publisher's RTP until the receiver stops. Subscriber lists
// are snapshotted under lock and written outside it so attach and detach
// never wait on a write; subscribers are written one after another.
func (r *relay) run(remote *webrtc.TrackRemote) {
	for {
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := remote.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}
		r.mu.Lock()
		locals := make([]*webrtc.TrackLocalStaticRTP, len(r.locals))
		copy(locals, r.locals)
		r.mu.Unlock()
		for _, local := range locals {
			_, _ = local.Write(buf[:n])
		}
		rtpBufferPool.Put(ptr)
	}
}
