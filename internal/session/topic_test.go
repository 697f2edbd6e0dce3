package session

import (
	"errors"
	"strings"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/d", false},
		{"a/+/c", "a/b/c/d", false},
		{"a/#", "a", true},
		{"a/#", "a/b", true},
		{"a/#", "a/b/c", true},
		{"a/#", "b", false},
		{"#", "a/b/c", true},
		{"+", "a", true},
		{"+", "a/b", false},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"a/b", "a", false},
		{"a", "a/b", false},
		{"+/#", "a", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
	}
	for _, tt := range tests {
		if got := matchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestShareFilter(t *testing.T) {
	tests := map[string]string{
		"$share/group/a/b": "a/b",
		"$share/group/#":   "#",
		"a/b":              "a/b",
		"$share/group":     "$share/group",
	}
	for in, want := range tests {
		if got := shareFilter(in); got != want {
			t.Errorf("shareFilter(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatePublishTopic(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		ok    bool
	}{
		{"simple", "a/b/c", true},
		{"empty", "", false},
		{"plus", "a/+/c", false},
		{"hash", "a/#", false},
		{"null", "a\x00b", false},
		{"bad utf8", "a\xffb", false},
		{"200 levels", strings.Repeat("a/", 199) + "a", true},
		{"201 levels", strings.Repeat("a/", 200) + "a", false},
		{"too long", strings.Repeat("x", MaxTopicLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePublishTopic(tt.topic)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTopic) {
				t.Fatalf("err = %v, want ErrInvalidTopic", err)
			}
		})
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter string
		ok     bool
	}{
		{"a/+/c", true},
		{"#", true},
		{"a/#", true},
		{"+", true},
		{"$share/g/a/+", true},
		{"a/b+", false},
		{"a/#/b", false},
		{"a#", false},
		{"$share/g", false},
		{"$share//a", false},
		{"$share/g+/a", false},
		{strings.Repeat("+/", 200) + "#", false},
		{strings.Repeat("+/", 199) + "#", true},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateFilter(tt.filter)
		if tt.ok && err != nil {
			t.Errorf("ValidateFilter(%.20q) = %v", tt.filter, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateFilter(%.20q) = %v, want ErrInvalidTopic", tt.filter, err)
		}
	}
}
