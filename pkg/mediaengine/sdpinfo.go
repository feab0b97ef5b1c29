package mediaengine

import (
	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// OfferInfo - сводка медиа секций SDP описания.
type OfferInfo struct {
	HasAudio   bool
	HasVideo   bool
	MediaKinds []string
}

// DescribeSDP разбирает SDP и возвращает сводку его медиа секций.
func DescribeSDP(raw string) (OfferInfo, error) {
	parsed := sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return OfferInfo{}, errors.Wrap(err, "parse sdp")
	}
	info := OfferInfo{}
	for _, m := range parsed.MediaDescriptions {
		kind := m.MediaName.Media
		info.MediaKinds = append(info.MediaKinds, kind)
		switch kind {
		case "audio":
			info.HasAudio = true
		case "video":
			info.HasVideo = true
		}
	}
	return info, nil
}
