package pipeline

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

var paginationSelectors = []string{
	`a[href*="page="]`,
	`a[href*="/page/"]`,
	".pagination a",
	`[class*="pagination"] a`,
}

var infiniteScrollSelectors = []string{
	"[data-infinite-scroll]",
	"[data-load-more]",
	`[class*="infinite"]`,
}

var infiniteScrollMarkers = []string{
	"infinite-scroll",
	"load-more",
	"show-more",
}

var pageNumberPattern = regexp.MustCompile(`page[=/](\d+)`)

// detectPagination is phase six: probe the first listing page for pagination
// affordances and infinite-scroll markers. No listing page means no
// pagination verdict, which the aggregate score treats as weak evidence
// rather than failure.
func (p *Pipeline) detectPagination(ctx context.Context, baseURL string, listingPages []string) discovery.PaginationResult {
	var pagination discovery.PaginationResult
	if len(listingPages) == 0 {
		return pagination
	}

	sampleURL := listingPages[0]
	res, err := p.gatedFetch(ctx, sampleURL, discovery.FetchStatic)
	if err != nil {
		p.logger.Debug("pagination probe fetch failed",
			zap.String("url", sampleURL),
			zap.Error(err))
		return pagination
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return pagination
	}

	for _, selector := range paginationSelectors {
		links := doc.Find(selector)
		if links.Length() == 0 {
			continue
		}

		first, _ := links.First().Attr("href")
		if strings.Contains(first, "page=") {
			pagination.Type = discovery.PaginationQueryParam
			pagination.Param = "page"
		} else if strings.Contains(first, "/page/") {
			pagination.Type = discovery.PaginationPathParam
			pagination.Param = "page"
		}

		maxPage := 0
		links.Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if m := pageNumberPattern.FindStringSubmatch(href); m != nil {
				if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > maxPage {
					maxPage = n
				}
			}
		})
		pagination.MaxPages = maxPage
		break
	}

	pagination.InfiniteScroll = detectInfiniteScroll(doc, res.HTML)
	return pagination
}

func detectInfiniteScroll(doc *goquery.Document, html string) bool {
	for _, selector := range infiniteScrollSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	lower := strings.ToLower(html)
	for _, marker := range infiniteScrollMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
