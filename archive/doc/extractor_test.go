package doc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crystal-web-archiver/crystal/archive/doc"
)

func TestHTMLExtractorResolvesRelativeLinks(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/about">About</a>
		<a href="https://example.test/other">Other</a>
		<img src="images/logo.png">
		<a href="javascript:void(0)">noop</a>
		<a href="#top">same page</a>
	</body></html>`)

	links := doc.HTMLExtractor{}.ExtractLinks("text/html; charset=utf-8", body, "https://example.test/section/page.html")

	assert.Contains(t, links, "https://example.test/about")
	assert.Contains(t, links, "https://example.test/other")
	assert.Contains(t, links, "https://example.test/section/images/logo.png")
	assert.NotContains(t, links, "javascript:void(0)")
}

func TestHTMLExtractorIgnoresNonHTML(t *testing.T) {
	links := doc.HTMLExtractor{}.ExtractLinks("application/json", []byte(`{"href":"/x"}`), "https://example.test/")
	assert.Empty(t, links)
}
