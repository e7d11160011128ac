package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCodecSet(t *testing.T) {
	codecs := DefaultCodecs()
	require.Len(t, codecs, 3)

	opus := codecs[0]
	require.Equal(t, KindAudio, opus.Kind)
	require.Equal(t, "audio/opus", opus.MimeType)
	require.EqualValues(t, 48000, opus.ClockRate)
	require.EqualValues(t, 2, opus.Channels)
	require.Equal(t, 1, opus.Parameters["useinbandfec"])
	require.Equal(t, 10, opus.Parameters["minptime"])

	h264 := codecs[1]
	require.Equal(t, "video/H264", h264.MimeType)
	require.Equal(t, "42e01f", h264.Parameters["profile-level-id"])
	require.Equal(t, 1, h264.Parameters["packetization-mode"])
	require.Equal(t, 3000, h264.Parameters["x-google-start-bitrate"])
	require.Equal(t, 5000, h264.Parameters["x-google-max-bitrate"])

	vp8 := codecs[2]
	require.Equal(t, "video/VP8", vp8.MimeType)
	require.Equal(t, 2500, vp8.Parameters["x-google-start-bitrate"])
	require.Equal(t, 4000, vp8.Parameters["x-google-max-bitrate"])
}

func TestFinalizeCapabilitiesFillsDefaults(t *testing.T) {
	caps, err := finalizeCapabilities(DefaultCodecs())
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 3)
	require.NotEmpty(t, caps.HeaderExtensions)

	seen := map[uint8]bool{}
	for _, c := range caps.Codecs {
		require.GreaterOrEqual(t, c.PreferredPayloadType, uint8(firstDynamicPayloadType))
		require.False(t, seen[c.PreferredPayloadType], "payload type reused")
		seen[c.PreferredPayloadType] = true
		require.NotNil(t, c.RTCPFeedback)
	}

	// Video codecs carry the keyframe and bandwidth feedback set.
	var kinds []string
	for _, fb := range caps.Codecs[1].RTCPFeedback {
		kinds = append(kinds, fb.Type+"/"+fb.Parameter)
	}
	require.Contains(t, kinds, "nack/pli")
	require.Contains(t, kinds, "ccm/fir")
	require.Contains(t, kinds, "goog-remb/")
}

func TestFinalizeCapabilitiesRejectsBadCodec(t *testing.T) {
	_, err := finalizeCapabilities([]CodecCapability{{Kind: "smell", MimeType: "audio/opus", ClockRate: 48000}})
	require.Error(t, err)

	_, err = finalizeCapabilities([]CodecCapability{{Kind: KindAudio, MimeType: "audio/opus"}})
	require.Error(t, err)
}

func TestFinalizedCapabilitiesMarshalShape(t *testing.T) {
	caps, err := finalizeCapabilities(DefaultCodecs())
	require.NoError(t, err)
	raw, err := json.Marshal(caps)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "codecs")
	require.Contains(t, decoded, "headerExtensions")
}

func TestCanConsumeMatchesByMimeTypeAndClockRate(t *testing.T) {
	caps, err := finalizeCapabilities(DefaultCodecs())
	require.NoError(t, err)
	h264 := caps.Codecs[1]

	ok := canConsume(h264, json.RawMessage(`{"codecs":[
		{"kind":"video","mimeType":"video/h264","clockRate":90000,"parameters":{"profile-level-id":"42e01f"}}
	]}`))
	require.True(t, ok)

	// Wrong clock rate.
	require.False(t, canConsume(h264, json.RawMessage(`{"codecs":[
		{"kind":"video","mimeType":"video/H264","clockRate":100000}
	]}`)))

	// Different H264 profile.
	require.False(t, canConsume(h264, json.RawMessage(`{"codecs":[
		{"kind":"video","mimeType":"video/H264","clockRate":90000,"parameters":{"profile-level-id":"640032"}}
	]}`)))

	// Garbage capabilities never match.
	require.False(t, canConsume(h264, json.RawMessage(`"nope"`)))
}

func TestCodecMatchesAudioChannels(t *testing.T) {
	opus := CodecCapability{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}

	require.True(t, codecMatches(opus, CodecCapability{Kind: KindAudio, MimeType: "audio/OPUS", ClockRate: 48000, Channels: 2}))
	// Absent channels on the subscriber side is tolerated.
	require.True(t, codecMatches(opus, CodecCapability{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000}))
	require.False(t, codecMatches(opus, CodecCapability{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 1}))
}

func TestFmtpLineStableOrder(t *testing.T) {
	params := map[string]interface{}{
		"profile-level-id":   "42e01f",
		"packetization-mode": 1,
	}
	require.Equal(t, "packetization-mode=1;profile-level-id=42e01f", fmtpLine(params))
	require.Equal(t, fmtpLine(params), fmtpLine(params))
	require.Equal(t, "", fmtpLine(nil))
}

func TestKindValid(t *testing.T) {
	require.True(t, KindAudio.Valid())
	require.True(t, KindVideo.Valid())
	require.False(t, Kind("data").Valid())
}
