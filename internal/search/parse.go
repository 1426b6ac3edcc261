package search

import (
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/sells-group/disclosure-cli/internal/model"
)

// parseVerificationToken scans the search page for the anti-forgery token
// the clerk site embeds as a hidden form input.
func parseVerificationToken(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", eris.Wrap(err, "search: parse token page")
	}

	var token string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if token != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "input" {
			var name, value string
			for _, a := range n.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				}
			}
			if name == "__RequestVerificationToken" && value != "" {
				token = value
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if token == "" {
		return "", eris.New("search: verification token input not found")
	}
	return token, nil
}

// parseResultsTable extracts disclosure records from the search-results HTML
// fragment. Each qualifying row has at least four cells: filer name (with an
// optional PDF link), office, filing year, and filing type. Rows with fewer
// cells are skipped. Relative document links are resolved against base.
func parseResultsTable(r io.Reader, base *url.URL) ([]model.DisclosureRecord, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, eris.Wrap(err, "search: parse results html")
	}

	table := findFirst(doc, "table")
	if table == nil {
		return []model.DisclosureRecord{}, nil
	}

	var records []model.DisclosureRecord
	for _, row := range findAll(table, "tr") {
		cells := findAll(row, "td")
		if len(cells) < 4 {
			continue
		}

		rec := model.DisclosureRecord{
			Name:       nodeText(cells[0]),
			Office:     nodeText(cells[1]),
			FilingYear: nodeText(cells[2]),
			FilingType: nodeText(cells[3]),
		}

		if href := firstAnchorHref(cells[0]); href != "" {
			if ref, err := url.Parse(href); err == nil {
				rec.DocumentURL = base.ResolveReference(ref).String()
				rec.ProcessingStatus = model.StatusPending
			}
		}

		records = append(records, rec)
	}
	return records, nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

func firstAnchorHref(n *html.Node) string {
	a := findFirst(n, "a")
	if a == nil {
		return ""
	}
	for _, attr := range a.Attr {
		if attr.Key == "href" {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
