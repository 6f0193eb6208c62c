package messaging

import (
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zfogg/orbit/internal/models"
)

const (
	mib = 1 << 20

	MaxImageBytes = 10 * mib
	MaxVideoBytes = 50 * mib
	MaxAudioBytes = 20 * mib
)

// MediaRule is the allow-list and size ceiling for one media message type
type MediaRule struct {
	MIMETypes []string
	MaxBytes  int64
	// sniffed lists detected types accepted beyond MIMETypes, e.g. the
	// container a browser records audio into
	sniffed []string
}

var mediaRules = map[models.MessageType]MediaRule{
	models.MessageTypeImage: {
		MIMETypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxBytes:  MaxImageBytes,
	},
	models.MessageTypeVideo: {
		MIMETypes: []string{"video/mp4", "video/webm", "video/quicktime"},
		MaxBytes:  MaxVideoBytes,
	},
	models.MessageTypeAudio: {
		MIMETypes: []string{"audio/mpeg", "audio/mp4", "audio/wav", "audio/ogg", "audio/webm"},
		MaxBytes:  MaxAudioBytes,
		sniffed:   []string{"audio/x-m4a", "video/mp4", "video/webm", "application/ogg"},
	},
}

// RuleFor returns the media rule of t
func RuleFor(t models.MessageType) (MediaRule, bool) {
	rule, ok := mediaRules[t]
	return rule, ok
}

// ValidateMedia checks an attachment against the rule of its message type.
// It returns the normalized declared MIME type.
func ValidateMedia(t models.MessageType, declaredMIME string, data []byte) (string, error) {
	rule, ok := mediaRules[t]
	if !ok {
		return "", invalid("type", "message type %q does not carry media", t)
	}

	declared := normalizeMIME(declaredMIME)
	if !slices.Contains(rule.MIMETypes, declared) {
		return "", invalid("file", "%s files are not allowed for %s messages (allowed: %s)",
			orUnknown(declared), t, strings.Join(rule.MIMETypes, ", "))
	}
	if len(data) == 0 {
		return "", invalid("file", "file is empty")
	}
	if int64(len(data)) > rule.MaxBytes {
		return "", invalid("file", "file is %d bytes; %s messages are limited to %d MB",
			len(data), t, rule.MaxBytes/mib)
	}

	detected := mimetype.Detect(data)
	if !matchesAny(detected, rule.MIMETypes, rule.sniffed) {
		return "", invalid("file", "file content is %s, not %s", detected.String(), declared)
	}
	return declared, nil
}

func normalizeMIME(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}

func matchesAny(detected *mimetype.MIME, lists ...[]string) bool {
	for m := detected; m != nil; m = m.Parent() {
		for _, list := range lists {
			for _, allowed := range list {
				if m.Is(allowed) {
					return true
				}
			}
		}
	}
	return false
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
