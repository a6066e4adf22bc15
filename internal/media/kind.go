package media

import (
	"fmt"
	"strings"
)

// Kind is the top-level category of a conversion job.
type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Kinds returns every media kind in display order.
func Kinds() []Kind {
	return []Kind{KindVideo, KindAudio, KindImage, KindDocument}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindVideo, KindAudio, KindImage, KindDocument:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// ParseKind resolves a case-insensitive kind name.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown media kind %q", value)
	}
	return kind, nil
}
