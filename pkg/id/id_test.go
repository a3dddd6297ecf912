package id

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

func TestNew(t *testing.T) {
	a := New(PrefixCandidate)
	b := New(PrefixCandidate)

	assert.True(t, strings.HasPrefix(a, "cand-"))
	assert.Len(t, a, len("cand-")+26)
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestNewWithoutPrefix(t *testing.T) {
	assert.Len(t, New(""), 26)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name     string
		wantBase string
	}{
		{"Royal Shakespeare Company", "royal-shakespeare-company-"},
		{"  --Théâtre du Soleil!! ", "th-tre-du-soleil-"},
		{"ACME", "acme-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Slug(tt.name)
			assert.True(t, strings.HasPrefix(s, tt.wantBase), s)
			assert.Len(t, s, len(tt.wantBase)+slugSuffixLen)
			assert.Regexp(t, slugPattern, s)
		})
	}
}

func TestSlugTruncatesLongNames(t *testing.T) {
	s := Slug(strings.Repeat("a", 100))
	assert.Len(t, s, slugBaseMax+1+slugSuffixLen)
}

func TestSlugWithoutUsableCharacters(t *testing.T) {
	s := Slug("!!!")
	assert.Len(t, s, slugSuffixLen)
	assert.Regexp(t, slugPattern, s)
}
