// Package topic implements MQTT topic name/filter validation and the
// matcher that decides whether a concrete topic is covered by a filter
// per MQTT 3.1.1 §4.7.
package topic

import (
	"strings"
	"unicode/utf8"

	"github.com/pyr33x/goqttd/pkg/er"
)

func isControlRune(r rune) bool {
	return (r >= 0x0001 && r <= 0x001F) || (r >= 0x007F && r <= 0x009F)
}

func hasDisallowedRunes(s string) error {
	if !utf8.ValidString(s) {
		return er.New("Topic", er.KindMalformedPacket, er.ErrInvalidUTF8String)
	}
	for _, r := range s {
		if r == 0 {
			return er.New("Topic", er.KindMalformedPacket, er.ErrNullCharacterInTopic)
		}
		if isControlRune(r) {
			return er.New("Topic", er.KindMalformedPacket, er.ErrControlCharacterInTopic)
		}
	}
	return nil
}

// ValidateTopicName validates a concrete topic name, as used in PUBLISH.
// Empty levels (consecutive or leading/trailing '/') are legal per §3 of
// MQTT topic names; only wildcards, nulls, and control points are rejected.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return er.New("Topic", er.KindMalformedPacket, er.ErrEmptyTopic)
	}
	if err := hasDisallowedRunes(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return er.New("Topic", er.KindMalformedPacket, er.ErrWildcardInTopicName)
	}
	return nil
}

// ValidateFilter validates a topic filter, as used in SUBSCRIBE/UNSUBSCRIBE.
// '+' and '#' may only occupy a whole level, and '#' may only be the last
// level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return er.New("Topic", er.KindMalformedPacket, er.ErrEmptyTopic)
	}
	if err := hasDisallowedRunes(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "+", level == "#":
			if level == "#" && i != len(levels)-1 {
				return er.New("Topic", er.KindMalformedPacket, er.ErrMultiLevelWildcardNotLast)
			}
		case strings.Contains(level, "#"):
			return er.New("Topic", er.KindMalformedPacket, er.ErrMultiLevelWildcardNotAlone)
		case strings.Contains(level, "+"):
			return er.New("Topic", er.KindMalformedPacket, er.ErrSingleLevelWildcardNotAlone)
		}
	}
	return nil
}

// Matches reports whether topic is covered by filter, per MQTT §4.7:
// level-by-level equality, '+' matching exactly one level (including an
// empty one), and a trailing '#' matching zero or more levels. Topics
// beginning with '$' are never matched by filters whose first level is a
// wildcard (MQTT-4.7.2-1), preserving the "system topics" convention.
func Matches(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fLevels := strings.Split(filter, "/")
	tLevels := strings.Split(topic, "/")

	for i, fl := range fLevels {
		if fl == "#" {
			return true
		}
		if i >= len(tLevels) {
			return false
		}
		if fl != "+" && fl != tLevels[i] {
			return false
		}
	}

	return len(fLevels) == len(tLevels)
}
