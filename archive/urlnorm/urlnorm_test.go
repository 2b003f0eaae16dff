package urlnorm_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/crystal-web-archiver/crystal/archive/urlnorm"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"strips fragment", "https://xkcd.com/1/#comic", "https://xkcd.com/1/"},
		{"lowercases host", "https://XKCD.COM/1/", "https://xkcd.com/1/"},
		{"empty path becomes slash", "https://xkcd.com", "https://xkcd.com/"},
		{"already canonical", "https://xkcd.com/1/", "https://xkcd.com/1/"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := urlnorm.Normalize(c.in)
			assert.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestResourceURLAlternativesEndsWithCanonical(t *testing.T) {
	alts := urlnorm.ResourceURLAlternatives("https://XKCD.com/1/#frag")
	assert.NotEmpty(t, alts)
	canonical, err := urlnorm.Normalize("https://XKCD.com/1/#frag")
	assert.NoError(t, err)
	assert.Equal(t, canonical, alts[len(alts)-1])
	assert.Equal(t, "https://XKCD.com/1/#frag", alts[0])
}

func TestResourceURLAlternativesOrderedFromRawToCanonical(t *testing.T) {
	got := urlnorm.ResourceURLAlternatives("https://XKCD.com:443/1/#frag")
	want := []string{
		"https://XKCD.com:443/1/#frag",
		"https://XKCD.com:443/1/",
		"https://xkcd.com:443/1/",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResourceURLAlternatives() mismatch (-want +got):\n%s", diff)
	}
}
