package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit on encoded topic length.
const maxTopicLength = 65535

// Wildcard characters used in topic filters.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	levelSeparator      = "/"
)

// ValidateTopicName checks a topic used for publishing.
//
// Names must be non-empty UTF-8 without NUL characters and must not contain
// wildcards.
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: wildcards are not allowed in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a topic filter used for subscribing.
//
// "+" must occupy a whole level. "#" must occupy the last level.
//
// Examples:
//
//	site/+/temperature   valid
//	site/#               valid
//	site/a#              invalid
//	site/#/temperature   invalid
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level on its own in %q",
					ErrInvalidTopic, multiLevelWildcard, filter)
			}
		}
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: %q must occupy a whole level in %q",
				ErrInvalidTopic, singleLevelWildcard, filter)
		}
	}
	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic length %d exceeds %d bytes", ErrInvalidTopic, len(topic), maxTopicLength)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL character", ErrInvalidTopic)
	}
	return nil
}
