package browser

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanDOM_StripsNoise(t *testing.T) {
	raw := `<html><head><script>alert(1)</script><style>.x{}</style></head>
	<body><div id="feed" class="list" data-reactid="7">
	<a href="/explore/abc123">A post title</a></div></body></html>`

	got := CleanDOM(raw, 0)

	assert.NotContains(t, got, "alert(1)")
	assert.NotContains(t, got, ".x{}")
	assert.NotContains(t, got, "data-reactid")
	assert.Contains(t, got, `id="feed"`)
	assert.Contains(t, got, `class="list"`)
	assert.Contains(t, got, `href="/explore/abc123"`)
	assert.Contains(t, got, "A post title")
}

func TestCleanDOM_CollapsesWhitespace(t *testing.T) {
	got := CleanDOM("<p>  hello \n\t world  </p>", 0)
	assert.Contains(t, got, "hello world")
}

func TestCleanDOM_Truncates(t *testing.T) {
	raw := "<p>" + strings.Repeat("a", 500) + "</p>"
	got := CleanDOM(raw, 100)
	assert.LessOrEqual(t, len([]rune(got)), 100+len([]rune("…[truncated]")))
	assert.Contains(t, got, "[truncated]")
}

func TestHostMatches(t *testing.T) {
	cases := []struct {
		url  string
		host string
		want bool
	}{
		{"https://www.example.com/explore", "example.com", true},
		{"https://example.com/", "example.com", true},
		{"https://evil-example.com/", "example.com", false},
		{"https://other.org/", "example.com", false},
		{"not a url at all\x7f", "example.com", false},
		{"https://example.com/", "", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hostMatches(tc.url, tc.host), "%s vs %s", tc.url, tc.host)
	}
}

func TestOriginRegexpExtraction(t *testing.T) {
	re := regexp.MustCompile(`/explore/([a-f0-9]+)`)

	m := re.FindStringSubmatch("/explore/64cafe12?src=feed")
	assert.Len(t, m, 2)
	assert.Equal(t, "64cafe12", m[1])

	assert.Nil(t, re.FindStringSubmatch("/user/profile/64cafe12"))
}
