package session

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTopicLevels is the largest number of '/'-separated levels a
	// topic name or filter may have.
	MaxTopicLevels = 200

	// MaxTopicLength is the longest topic the two-byte length prefix
	// can carry.
	MaxTopicLength = 65535
)

// matchTopic checks if a topic matches a topic filter with MQTT wildcards.
// Supports:
// - '+' matches a single level
// - '#' matches multiple levels (must be last character)
func matchTopic(filter, topic string) bool {
	// Wildcards at the first level never match topics starting with '$'
	// (MQTT-4.7.2-1).
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	for {
		fLevel, fRest, fMore := strings.Cut(filter, "/")
		if fLevel == "#" {
			// Matches the parent level too ("a/#" matches "a").
			return true
		}
		tLevel, tRest, tMore := strings.Cut(topic, "/")
		if fLevel != "+" && fLevel != tLevel {
			return false
		}
		switch {
		case !fMore && !tMore:
			return true
		case !fMore:
			return false
		case !tMore:
			// Only a trailing "#" can match a missing level.
			return fRest == "#"
		}
		filter, topic = fRest, tRest
	}
}

// shareFilter strips a "$share/group/" prefix and returns the filter used
// for matching.
func shareFilter(filter string) string {
	if !strings.HasPrefix(filter, "$share/") {
		return filter
	}
	rest := filter[len("$share/"):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return filter
}

func checkTopicString(kind, topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidTopic, kind)
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("%w: %s length %d exceeds maximum %d", ErrInvalidTopic, kind, len(topic), MaxTopicLength)
	}
	if strings.IndexByte(topic, 0) >= 0 {
		return fmt.Errorf("%w: %s contains null byte", ErrInvalidTopic, kind)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidTopic, kind)
	}
	if levels := strings.Count(topic, "/") + 1; levels > MaxTopicLevels {
		return fmt.Errorf("%w: %s has %d levels, maximum is %d", ErrInvalidTopic, kind, levels, MaxTopicLevels)
	}
	return nil
}

// ValidatePublishTopic validates a topic for publishing.
// Publish topics must not contain wildcards.
func ValidatePublishTopic(topic string) error {
	if err := checkTopicString("topic", topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards are not allowed in PUBLISH topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter validates a topic filter for subscribing.
func ValidateFilter(filter string) error {
	if err := checkTopicString("topic filter", filter); err != nil {
		return err
	}

	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) < 3 || parts[1] == "" || parts[2] == "" || strings.ContainsAny(parts[1], "+#") {
			return fmt.Errorf("%w: malformed shared subscription %q", ErrInvalidTopic, filter)
		}
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy an entire level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "#") {
			if level != "#" {
				return fmt.Errorf("%w: '#' must occupy an entire level in %q", ErrInvalidTopic, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
			}
		}
	}
	return nil
}
