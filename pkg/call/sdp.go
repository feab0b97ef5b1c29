package call

import (
	"log/slog"

	"github.com/pion/sdp/v3"
)

// offerMediaKind определяет вид медиа по секциям SDP предложения.
// Нечитаемый SDP трактуется как голосовой вызов: подстрочный поиск
// здесь не годится, "m=video" может встретиться в тексте атрибута.
func offerMediaKind(raw string) MediaKind {
	parsed := sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		slog.Warn("offerMediaKind unparsable sdp",
			slog.String("error", err.Error()))
		return MediaVoice
	}
	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media == "video" {
			return MediaVideo
		}
	}
	return MediaVoice
}
