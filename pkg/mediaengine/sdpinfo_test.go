package mediaengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const audioOnlySDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=mid:0\r\n"

const audioVideoSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=mid:0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"a=mid:1\r\n"

func TestDescribeSDPAudioOnly(t *testing.T) {
	info, err := DescribeSDP(audioOnlySDP)
	require.NoError(t, err)
	assert.True(t, info.HasAudio)
	assert.False(t, info.HasVideo)
	assert.Equal(t, []string{"audio"}, info.MediaKinds)
}

func TestDescribeSDPAudioVideo(t *testing.T) {
	info, err := DescribeSDP(audioVideoSDP)
	require.NoError(t, err)
	assert.True(t, info.HasAudio)
	assert.True(t, info.HasVideo)
	assert.Equal(t, []string{"audio", "video"}, info.MediaKinds)
}

func TestDescribeSDPInvalid(t *testing.T) {
	_, err := DescribeSDP("not an sdp")
	require.Error(t, err)
}
