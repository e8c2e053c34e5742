package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainSet(t *testing.T) {
	t.Parallel()
	set := newDomainSet([]string{" Facebook.com ", "*.ads.example", ".tracker.net", "", "*."})

	cases := map[string]bool{
		"facebook.com":         true,
		"www.facebook.com":     false,
		"ads.example":          true,
		"cdn.ads.example":      true,
		"notads.example":       false,
		"x.tracker.net":        true,
		"":                     false,
		"ges.gov.gh":           false,
		"FACEBOOK.COM":         true,
		"deep.cdn.ads.example": true,
	}
	for host, want := range cases {
		assert.Equal(t, want, set.Contains(host), host)
	}
}

func TestDomainSet_EmptyIsNil(t *testing.T) {
	t.Parallel()
	set := newDomainSet([]string{"", "  "})
	assert.Nil(t, set)
	assert.False(t, set.Contains("example.com"))
}
