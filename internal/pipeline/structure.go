package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// exploreStructure is phase one. A compliance rejection or homepage fetch
// failure here aborts the run; the caller inspects Allowed and the error.
func (p *Pipeline) exploreStructure(ctx context.Context, url string) (discovery.StructureResult, error) {
	allowed, reason := p.gate.CheckAllowed(ctx, url)
	if !allowed {
		return discovery.StructureResult{Allowed: false, Reason: reason}, nil
	}

	res, err := p.gatedFetch(ctx, url, discovery.FetchStatic)
	if err != nil {
		return discovery.StructureResult{}, fmt.Errorf("fetching homepage: %w", err)
	}

	if public, publicReason := p.gate.IsPublicContent(url, res.HTML); !public {
		return discovery.StructureResult{
			Allowed: false,
			Reason:  "private content: " + publicReason,
		}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return discovery.StructureResult{}, fmt.Errorf("parsing homepage: %w", err)
	}

	requiresJS := pageRequiresJS(doc)

	var links []discovery.Link
	var navLinks []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		absolute, resolveErr := discovery.ResolveRef(url, href)
		if resolveErr != nil {
			return
		}
		if ok, _ := p.gate.ShouldCrawl(absolute, url); !ok {
			return
		}
		if seen[absolute] {
			return
		}
		seen[absolute] = true
		links = append(links, discovery.Link{
			URL:   absolute,
			Text:  truncate(strings.TrimSpace(sel.Text()), anchorTextMaxChars),
			Depth: 1,
		})
		if inNavigation(sel) {
			navLinks = append(navLinks, absolute)
		}
	})

	// Shell pages hide their catalog behind scripts; re-explore with the
	// browser and union whatever it surfaces.
	if requiresJS {
		rendered, renderErr := p.gatedFetch(ctx, url, discovery.FetchRendered)
		switch {
		case renderErr != nil:
			p.logger.Warn("rendered exploration failed, continuing with static links",
				zap.String("url", url),
				zap.Error(renderErr))
		default:
			links = append(links, p.renderedLinks(url, rendered.HTML, seen)...)
		}
	}

	if len(links) > maxLinksPerSite {
		links = links[:maxLinksPerSite]
	}

	// A shell page's static markup is not the real page; carry raw HTML
	// onward only when the static fetch is authoritative.
	homepageHTML := res.HTML
	if requiresJS {
		homepageHTML = ""
	}

	return discovery.StructureResult{
		Allowed:      true,
		Links:        links,
		NavLinks:     navLinks,
		TotalLinks:   len(links),
		RequiresJS:   requiresJS,
		HomepageHTML: homepageHTML,
	}, nil
}

// renderedLinks extracts gate-approved anchors from browser-rendered markup,
// skipping URLs already collected statically.
func (p *Pipeline) renderedLinks(baseURL, html string, seen map[string]bool) []discovery.Link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var links []discovery.Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		absolute, resolveErr := discovery.ResolveRef(baseURL, href)
		if resolveErr != nil {
			return
		}
		if seen[absolute] {
			return
		}
		if ok, _ := p.gate.ShouldCrawl(absolute, baseURL); !ok {
			return
		}
		seen[absolute] = true
		links = append(links, discovery.Link{
			URL:    absolute,
			Text:   truncate(strings.TrimSpace(sel.Text()), anchorTextMaxChars),
			Depth:  1,
			FromJS: true,
		})
	})
	return links
}

// pageRequiresJS applies the shell-page heuristic: near-empty body text or a
// bare SPA mount point means the static markup is not the real page.
func pageRequiresJS(doc *goquery.Document) bool {
	bodyText := strings.TrimSpace(doc.Find("body").Text())
	if len(bodyText) < 200 {
		return true
	}
	return doc.Find("#root").Length() > 0 || doc.Find("#app").Length() > 0
}

func inNavigation(sel *goquery.Selection) bool {
	parent := sel.Parent()
	if parent.Length() == 0 {
		return false
	}
	switch goquery.NodeName(parent) {
	case "nav", "header", "menu":
		return true
	}
	return false
}

// truncate caps s at max runes without splitting a multibyte character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
