package crawl

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// contextBlocks are the ancestors whose text describes a link.
const contextBlocks = "p, li, td, tr, dd, figure, article, section, div"

// ExtractPage builds an ingest.Page from a parsed document.
func ExtractPage(doc *goquery.Selection, pageURL *url.URL) ingest.Page {
	title := collapse(doc.Find("title").First().Text())
	if title == "" {
		title = collapse(doc.Find("h1").First().Text())
	}
	page := ingest.Page{URL: pageURL.String(), Title: title}
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := resolveLink(pageURL, href)
		if !ok {
			return
		}
		link := abs.String()
		if seen[link] {
			return
		}
		seen[link] = true
		text := collapse(a.Text())
		if text == "" {
			text = collapse(a.AttrOr("title", a.AttrOr("aria-label", "")))
		}
		page.Links = append(page.Links, ingest.LinkContext{
			URL:              link,
			LinkText:         text,
			SurroundingText:  surroundingText(a),
			PageTitle:        title,
			AnchorAttributes: anchorAttributes(a),
		})
	})
	return page
}

// ParsePage parses HTML from r and extracts the page.
func ParsePage(r io.Reader, pageURL *url.URL) (ingest.Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("parse html: %w", err)
	}
	return ExtractPage(doc.Selection, pageURL), nil
}

func surroundingText(a *goquery.Selection) string {
	block := a.Closest(contextBlocks)
	if block.Length() == 0 {
		block = a.Parent()
	}
	return truncateRunes(collapse(block.Text()), maxContextRunes)
}

func anchorAttributes(a *goquery.Selection) map[string]string {
	if a.Length() == 0 {
		return nil
	}
	attrs := make(map[string]string)
	for _, attr := range a.Nodes[0].Attr {
		if attr.Key == "href" || strings.TrimSpace(attr.Val) == "" {
			continue
		}
		attrs[attr.Key] = attr.Val
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
