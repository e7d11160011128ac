package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rembInterval is how often the bitrate cap is restated to a publisher.
const rembInterval = 2 * time.Second

// producerRTPParameters is the subset of the client's send parameters the
// engine needs. Unknown fields are ignored.
type producerRTPParameters struct {
	MID    string `json:"mid"`
	Codecs []struct {
		MimeType    string                 `json:"mimeType"`
		PayloadType uint8                  `json:"payloadType"`
		ClockRate   uint32                 `json:"clockRate"`
		Channels    uint8                  `json:"channels"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"codecs"`
	Encodings []struct {
		SSRC uint32 `json:"ssrc"`
	} `json:"encodings"`
	RTCP struct {
		CNAME string `json:"cname"`
	} `json:"rtcp"`
}

type pionProducer struct {
	id        string
	kind      Kind
	codec     CodecCapability
	ssrc      uint32
	cname     string
	transport *pionTransport
	receiver  *webrtc.RTPReceiver
	relay     *relay
	stop      chan struct{}
	closed    bool
}

func (t *pionTransport) Produce(_ context.Context, kind Kind, rtpParameters json.RawMessage) (Producer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind %q", kind)
	}
	if !t.isConnected() {
		return nil, ErrTransportNotConnected
	}

	var params producerRTPParameters
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return nil, fmt.Errorf("decode rtp parameters: %w", err)
	}
	primary := -1
	for i, c := range params.Codecs {
		if !strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx") {
			primary = i
			break
		}
	}
	if primary < 0 {
		return nil, errors.New("rtp parameters carry no media codec")
	}
	if len(params.Encodings) == 0 || params.Encodings[0].SSRC == 0 {
		return nil, errors.New("rtp parameters carry no ssrc")
	}
	codec, ok := t.router.codecForMimeType(params.Codecs[primary].MimeType)
	if !ok {
		return nil, fmt.Errorf("unsupported codec %s", params.Codecs[primary].MimeType)
	}

	receiver, err := t.router.api.NewRTPReceiver(kind.codecType(), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
				PayloadType: webrtc.PayloadType(params.Codecs[primary].PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}

	p := &pionProducer{
		id:        uuid.NewString(),
		kind:      kind,
		codec:     codec,
		ssrc:      params.Encodings[0].SSRC,
		cname:     params.RTCP.CNAME,
		transport: t,
		receiver:  receiver,
		relay:     newRelay(),
		stop:      make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, ErrClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	go p.relay.run(receiver.Track())
	if kind == KindVideo && t.opts.MaxIncomingBitrate > 0 {
		go p.paceIncoming(t.opts.MaxIncomingBitrate)
	}

	t.log.Info("producer created",
		zap.String("producer_id", p.id),
		zap.String("kind", string(kind)),
		zap.String("codec", codec.MimeType),
	)
	return p, nil
}

func (p *pionProducer) ID() string { return p.id }
func (p *pionProducer) Kind() Kind { return p.kind }

// requestKeyFrame asks the publisher for a fresh keyframe so a newly
// resumed consumer can decode immediately.
func (p *pionProducer) requestKeyFrame() {
	if p.kind != KindVideo {
		return
	}
	_, _ = p.transport.dtls.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: p.ssrc},
	})
}

// paceIncoming restates the receive-side bitrate cap to the publisher
// until the producer closes.
func (p *pionProducer) paceIncoming(maxBitrate int) {
	ticker := time.NewTicker(rembInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			_, _ = p.transport.dtls.WriteRTCP([]rtcp.Packet{
				&rtcp.ReceiverEstimatedMaximumBitrate{
					Bitrate: float32(maxBitrate),
					SSRCs:   []uint32{p.ssrc},
				},
			})
		}
	}
}

func (p *pionProducer) Close() error {
	p.transport.mu.Lock()
	if p.closed {
		p.transport.mu.Unlock()
		return nil
	}
	p.closed = true
	p.transport.mu.Unlock()

	close(p.stop)
	err := p.receiver.Stop()
	p.transport.removeProducer(p.id)
	return err
}
