package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RTCPFeedback is one feedback mechanism advertised for a codec.
type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter"`
}

// CodecCapability describes one codec a router supports. The finalized form
// (with payload type and feedback filled) is part of the external contract
// browsers negotiate against.
type CodecCapability struct {
	Kind                 Kind                   `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint8                  `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback         `json:"rtcpFeedback"`
}

// HeaderExtension describes one RTP header extension a router supports.
type HeaderExtension struct {
	Kind             Kind   `json:"kind"`
	URI              string `json:"uri"`
	PreferredID      int    `json:"preferredId"`
	PreferredEncrypt bool   `json:"preferredEncrypt"`
	Direction        string `json:"direction"`
}

// RTPCapabilities is the finalized codec and extension set of a router.
type RTPCapabilities struct {
	Codecs           []CodecCapability `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions"`
}

// DefaultCodecs is the codec set advertised by every router: Opus for
// audio, H.264 baseline as primary video, VP8 as fallback.
func DefaultCodecs() []CodecCapability {
	return []CodecCapability{
		{
			Kind:      KindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
			Parameters: map[string]interface{}{
				"useinbandfec": 1,
				"minptime":     10,
			},
		},
		{
			Kind:      KindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
				"x-google-start-bitrate":  3000,
				"x-google-max-bitrate":    5000,
			},
		},
		{
			Kind:      KindVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"x-google-start-bitrate": 2500,
				"x-google-max-bitrate":   4000,
			},
		},
	}
}

var (
	audioFeedback = []RTCPFeedback{
		{Type: "transport-cc"},
	}
	videoFeedback = []RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
	headerExtensions = []HeaderExtension{
		{Kind: KindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
		{Kind: KindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
		{Kind: KindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10, Direction: "sendrecv"},
		{Kind: KindAudio, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
		{Kind: KindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
		{Kind: KindAudio, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5, Direction: "recvonly"},
		{Kind: KindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5, Direction: "sendrecv"},
	}
)

// firstDynamicPayloadType is where preferred payload type assignment starts.
const firstDynamicPayloadType = 100

// finalizeCapabilities fills payload types, feedback and header extensions
// for a configured codec list, producing the router's advertised view.
func finalizeCapabilities(codecs []CodecCapability) (RTPCapabilities, error) {
	out := RTPCapabilities{
		Codecs:           make([]CodecCapability, 0, len(codecs)),
		HeaderExtensions: headerExtensions,
	}
	pt := uint8(firstDynamicPayloadType)
	for _, c := range codecs {
		if !c.Kind.Valid() {
			return RTPCapabilities{}, fmt.Errorf("codec %s: invalid kind %q", c.MimeType, c.Kind)
		}
		if c.ClockRate == 0 {
			return RTPCapabilities{}, fmt.Errorf("codec %s: missing clock rate", c.MimeType)
		}
		if c.PreferredPayloadType == 0 {
			c.PreferredPayloadType = pt
			pt++
		}
		if c.RTCPFeedback == nil {
			if c.Kind == KindAudio {
				c.RTCPFeedback = audioFeedback
			} else {
				c.RTCPFeedback = videoFeedback
			}
		}
		out.Codecs = append(out.Codecs, c)
	}
	return out, nil
}

// codecMatches reports whether a subscriber codec can receive media encoded
// with the producer codec.
func codecMatches(producer, subscriber CodecCapability) bool {
	if !strings.EqualFold(producer.MimeType, subscriber.MimeType) {
		return false
	}
	if producer.ClockRate != subscriber.ClockRate {
		return false
	}
	if producer.Kind == KindAudio && subscriber.Channels != 0 && producer.Channels != subscriber.Channels {
		return false
	}
	if strings.EqualFold(producer.MimeType, "video/H264") {
		return h264ProfileOf(producer.Parameters) == h264ProfileOf(subscriber.Parameters)
	}
	return true
}

func h264ProfileOf(params map[string]interface{}) string {
	v, ok := params["profile-level-id"]
	if !ok {
		return "42e01f"
	}
	return strings.ToLower(fmt.Sprintf("%v", v))
}

// canConsume reports whether a client advertising caps can receive the
// producer's codec.
func canConsume(producerCodec CodecCapability, caps json.RawMessage) bool {
	var remote RTPCapabilities
	if err := json.Unmarshal(caps, &remote); err != nil {
		return false
	}
	for _, c := range remote.Codecs {
		if codecMatches(producerCodec, c) {
			return true
		}
	}
	return false
}

func equalMimeType(a, b string) bool {
	return strings.EqualFold(a, b)
}

// fmtpLine renders codec parameters as an SDP fmtp attribute value with
// stable key order.
func fmtpLine(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}
