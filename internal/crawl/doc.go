// Package crawl walks educational websites and turns every visited page into
// an ingest.Page carrying its candidate links with their text context.
//
// CollySource fetches static HTML and can promote script-heavy pages to a
// headless renderer. ChromedpSource renders every page in headless Chrome.
package crawl
