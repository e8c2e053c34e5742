package crawl

import (
	"bytes"
	"strings"
)

const defaultRenderThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// needsRender reports whether a static response probably hides its links
// behind client-side rendering.
func needsRender(body []byte, threshold int) bool {
	if threshold <= 0 {
		threshold = defaultRenderThreshold
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < threshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script tags cover at least a quarter of body.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], "<script")
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := strings.Index(lower[contentStart:], "</script>")
		next := total
		if end != -1 {
			next = contentStart + end + len("</script>")
		}
		covered += next - start
		pos = next
	}
	return total > 0 && covered*100/total >= 25
}
