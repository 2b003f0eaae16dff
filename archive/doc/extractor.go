// Package doc stands in for Crystal's real link extractors (HTML, XML,
// JSON, CSS) behind a single narrow interface. A full soup-aware extraction
// pipeline is out of scope; this package gives the scheduler and replay
// server something real to drive link discovery and rewriting against.
package doc

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// linkAttrByTag maps an element's atom to the attribute that carries its
// archive-relevant URL.
var linkAttrByTag = map[atom.Atom]string{
	atom.A:      "href",
	atom.Link:   "href",
	atom.Img:    "src",
	atom.Script: "src",
	atom.Iframe: "src",
	atom.Source: "src",
}

// HTMLExtractor extracts hyperlink and subresource URLs from HTML documents
// using golang.org/x/net/html's tokenizer, resolving relative URLs against
// baseURL.
type HTMLExtractor struct{}

// ExtractLinks implements scheduler.LinkExtractor. It only looks at
// text/html bodies, and treats an empty or unparseable content type as
// HTML; any other content type yields no links, since
// non-HTML extraction (XML, JSON, CSS @import) is out of scope.
func (HTMLExtractor) ExtractLinks(contentType string, body []byte, baseURL string) []string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "" && mediaType != "text/html" {
		return nil
	}

	base, err := resolveBase(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		attrName, ok := linkAttrByTag[token.DataAtom]
		if !ok {
			continue
		}
		raw := attrValue(token, attrName)
		if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") {
			continue
		}
		resolved, err := base.Parse(raw)
		if err != nil {
			continue
		}
		resolved.Fragment = ""
		u := resolved.String()
		if !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	}
	return links
}

func resolveBase(baseURL string) (*url.URL, error) {
	return url.Parse(baseURL)
}

func attrValue(t html.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// RewriteLinks re-serializes an HTML document with every href/src attribute
// on a link-bearing element replaced by the result of calling rewrite on
// its original value. Tokens the tokenizer can't classify as a link-bearing
// tag pass through unmodified via their raw bytes, so whitespace and
// attribute quoting elsewhere in the document are preserved byte-for-byte.
func RewriteLinks(body []byte, rewrite func(string) string) []byte {
	var out bytes.Buffer
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(tokenizer.Raw())
			continue
		}
		token := tokenizer.Token()
		attrName, ok := linkAttrByTag[token.DataAtom]
		if !ok {
			out.Write(tokenizer.Raw())
			continue
		}
		for i, a := range token.Attr {
			if a.Key == attrName {
				token.Attr[i].Val = rewrite(a.Val)
			}
		}
		out.WriteString(token.String())
	}
	return out.Bytes()
}
