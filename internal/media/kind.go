package media

import (
	"fmt"
	"strings"
)

// Kind identifies the type of an uploaded media item.
type Kind string

const (
	KindVideo Kind = "video"
	KindPhoto Kind = "photo"
)

// ParseKind normalizes a user supplied kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindVideo:
		return KindVideo, nil
	case KindPhoto:
		return KindPhoto, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", value)
	}
}

// Position is one of the nine watermark anchors.
type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	CenterLeft   Position = "center-left"
	Center       Position = "center"
	CenterRight  Position = "center-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

// Positions lists every supported anchor in reading order.
var Positions = []Position{
	TopLeft, TopCenter, TopRight,
	CenterLeft, Center, CenterRight,
	BottomLeft, BottomCenter, BottomRight,
}

// ParsePosition validates a watermark anchor name.
func ParsePosition(value string) (Position, error) {
	candidate := Position(strings.ToLower(strings.TrimSpace(value)))
	for _, pos := range Positions {
		if pos == candidate {
			return pos, nil
		}
	}
	return "", fmt.Errorf("unknown watermark position %q", value)
}

const (
	MinOpacity = 0.1
	MaxOpacity = 1.0
)

// ValidOpacity reports whether opacity falls inside the supported range.
func ValidOpacity(opacity float64) bool {
	return opacity >= MinOpacity && opacity <= MaxOpacity
}
