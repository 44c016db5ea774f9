package stream

import (
	"bytes"
	"log"
	"time"

	"github.com/namuol/magic-eye-mirror/imgio"
	"github.com/namuol/magic-eye-mirror/pipeline"
	"github.com/namuol/magic-eye-mirror/stereogram"
)

// FrameStats is the payload of "stats" events.
type FrameStats struct {
	Seq             uint64  `json:"seq"`
	ComputeMillis   float64 `json:"computeMs"`
	DepthGeneration uint64  `json:"depthGeneration"`
	MinPx           int     `json:"minPx"`
	MaxPx           int     `json:"maxPx"`
	Frozen          bool    `json:"frozen"`
	Viewers         int64   `json:"viewers"`
}

// FramePresenter encodes loop frames as JPEG for the MJPEG manager and
// publishes stats on the events manager.
type FramePresenter struct {
	Frames  *ConnectionManager[[]byte]
	Events  *ConnectionManager[Message]
	Quality int
	// StatsEvery limits stats events to one per this many frames.
	StatsEvery uint64

	lastJPEG []byte
	lastKey  frameKey
}

// frameKey identifies a rendered image: a frozen frame repeats the key of
// the frame it re-presents.
type frameKey struct {
	params stereogram.Params
	depth  uint64
}

// Present implements pipeline.Presenter. Frames are only encoded while
// someone is watching, and a re-presented image reuses its encoding. With no
// viewers a new image invalidates the remembered frame, so a client that
// connects later never starts from an outdated picture.
func (p *FramePresenter) Present(fr pipeline.Frame) {
	if p.Frames != nil {
		key := frameKey{params: fr.Params, depth: fr.DepthGeneration}
		fresh := p.lastJPEG != nil && key == p.lastKey
		switch {
		case p.Frames.Active() == 0:
			if !fresh {
				p.Frames.Forget()
			}
		case fresh:
			p.Frames.Broadcast(p.lastJPEG)
		default:
			var buf bytes.Buffer
			if err := imgio.Encode(&buf, fr.Image, imgio.JPEG, p.Quality); err != nil {
				log.Printf("stream: encode frame %d: %v", fr.Seq, err)
				p.Frames.Forget()
				break
			}
			p.lastJPEG = buf.Bytes()
			p.lastKey = key
			p.Frames.Broadcast(p.lastJPEG)
		}
	}

	every := p.StatsEvery
	if every == 0 {
		every = 1
	}
	if p.Events == nil || fr.Seq%every != 0 {
		return
	}
	var viewers int64
	if p.Frames != nil {
		viewers = p.Frames.Active()
	}
	msg, err := JSONMessage("stats", FrameStats{
		Seq:             fr.Seq,
		ComputeMillis:   float64(fr.Elapsed) / float64(time.Millisecond),
		DepthGeneration: fr.DepthGeneration,
		MinPx:           fr.Params.MinPx,
		MaxPx:           fr.Params.MaxPx,
		Frozen:          fr.Frozen,
		Viewers:         viewers,
	})
	if err != nil {
		return
	}
	p.Events.Broadcast(msg)
}
