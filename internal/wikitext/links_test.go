package wikitext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[[Actinopterygii]]", "Actinopterygii"},
		{"see [[Actinopterygii|straalvinnigen]] (klasse)", "Actinopterygii"},
		{"[[Esociformes]] / [[Salmoniformes]]", "Esociformes"},
		{"  Esociformes  ", "Esociformes"},
		{"xyz-not-a-page", "xyz-not-a-page"},
		{"[[Snoek#Uiterlijk|uiterlijk]]", "Snoek#Uiterlijk"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, LinkTarget(tt.in))
		})
	}
}

func TestFirstLinkTarget_NoMarkup(t *testing.T) {
	_, ok := FirstLinkTarget("plain text")
	assert.False(t, ok)

	_, ok = FirstLinkTarget("[[broken")
	assert.False(t, ok)
}

func TestFirstExternalURL(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"[http://example.org/x label]", "http://example.org/x", true},
		{"[https://example.org/x]", "https://example.org/x", true},
		{"Website: https://example.org/fish.", "https://example.org/fish", true},
		{"(https://example.org/a)", "https://example.org/a", true},
		{"''http://example.org/i''", "http://example.org/i", true},
		{`<ref>"http://example.org/q"</ref>`, "http://example.org/q", true},
		{"example.org", "", false},
		{"www.example.org/x", "", false},
		{"ftp://example.org", "", false},
		{"http://", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := FirstExternalURL(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
