// Package fingerprint classifies a site's platform, CMS, JavaScript stack
// and anti-bot posture from a single homepage fetch.
package fingerprint

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

// Platform values reported by Classify. Any site not matching a known
// commerce platform is reported as PlatformCustom, never empty.
const (
	PlatformShopify     = "Shopify"
	PlatformWooCommerce = "WooCommerce"
	PlatformMagento     = "Magento"
	PlatformBigCommerce = "BigCommerce"
	PlatformPrestaShop  = "PrestaShop"
	PlatformCustom      = "Custom"
)

// platformSignature pairs a platform name with the body patterns that
// identify it. Order matters; the first platform with any hit wins.
type platformSignature struct {
	platform string
	patterns []*regexp.Regexp
}

var platformSignatures = []platformSignature{
	{PlatformShopify, compileAll(
		`cdn\.shopify\.com`,
		`Shopify\.theme`,
		`shopify-section`,
	)},
	{PlatformWooCommerce, compileAll(
		`woocommerce`,
		`wp-content/plugins/woocommerce`,
	)},
	{PlatformMagento, compileAll(
		`Mage\.Cookies`,
		`/static/frontend/`,
		`mage/cookies`,
	)},
	{PlatformBigCommerce, compileAll(
		`bigcommerce\.com`,
		`cdn\d+\.bigcommerce`,
	)},
	{PlatformPrestaShop, compileAll(
		`prestashop`,
		`/themes/[^/]+/assets`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

var reactPattern = regexp.MustCompile(`(?i)react`)
var cloudflarePattern = regexp.MustCompile(`(?i)cloudflare`)

// Service inspects fetched pages and produces fingerprints.
type Service struct {
	logger *zap.Logger
}

// NewService constructs a fingerprint Service.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Classify fingerprints a fetched homepage. It never fails; unparseable
// HTML degrades to the custom-platform defaults.
func (s *Service) Classify(res discovery.FetchResult) discovery.Fingerprint {
	fp := discovery.Fingerprint{
		Platform:     detectPlatform(res.HTML, res.Headers),
		CMS:          detectCMS(res.HTML),
		JSFrameworks: detectJSFrameworks(res.HTML),
		AntiBot:      detectAntiBot(res.HTML, res.Headers),
		RequiresJS:   requiresJavaScript(res.HTML),
		PageBytes:    len(res.HTML),
		ContentHash:  res.ContentHash,
		HTML:         res.HTML,
		Headers:      flattenHeaders(res.Headers),
	}
	fp.ComplexityScore = complexityScore(fp)

	s.logger.Debug("fingerprinted site",
		zap.String("url", res.URL),
		zap.String("platform", fp.Platform),
		zap.String("cms", fp.CMS),
		zap.Bool("requires_js", fp.RequiresJS),
		zap.Float64("complexity", fp.ComplexityScore))
	return fp
}

func detectPlatform(html string, headers http.Header) string {
	for _, sig := range platformSignatures {
		for _, pat := range sig.patterns {
			if pat.MatchString(html) {
				return sig.platform
			}
		}
	}
	if headers.Get("X-ShopifyTrace") != "" || headers.Get("X-Shopify-Stage") != "" {
		return PlatformShopify
	}
	return PlatformCustom
}

func detectCMS(html string) string {
	switch {
	case strings.Contains(html, "WordPress") || strings.Contains(html, "wp-content"):
		return "WordPress"
	case strings.Contains(html, "Drupal") || strings.Contains(html, "sites/default"):
		return "Drupal"
	case strings.Contains(html, "Joomla"):
		return "Joomla"
	}
	return "None"
}

func detectJSFrameworks(html string) []string {
	lower := strings.ToLower(html)
	var frameworks []string
	if reactPattern.MatchString(html) || strings.Contains(html, "data-react") {
		frameworks = append(frameworks, "React")
	}
	if strings.Contains(html, "ng-app") || strings.Contains(lower, "angular") {
		frameworks = append(frameworks, "Angular")
	}
	if strings.Contains(html, "Vue") || strings.Contains(html, "_vue") {
		frameworks = append(frameworks, "Vue")
	}
	if strings.Contains(lower, "next") && strings.Contains(html, "/_next/") {
		frameworks = append(frameworks, "Next.js")
	}
	if strings.Contains(lower, "nuxt") {
		frameworks = append(frameworks, "Nuxt")
	}
	if len(frameworks) == 0 {
		return []string{"None"}
	}
	return frameworks
}

func detectAntiBot(html string, headers http.Header) discovery.AntiBot {
	lower := strings.ToLower(html)
	var services []string
	if cloudflarePattern.MatchString(html) || headers.Get("Cf-Ray") != "" {
		services = append(services, "cloudflare")
	}
	if strings.Contains(lower, "recaptcha") {
		services = append(services, "recaptcha")
	}
	if strings.Contains(lower, "datadome") {
		services = append(services, "datadome")
	}
	if strings.Contains(lower, "imperva") || strings.Contains(html, "_Incapsula") {
		services = append(services, "imperva")
	}
	if strings.Contains(lower, "perimeterx") {
		services = append(services, "perimeterx")
	}
	return discovery.AntiBot{
		Detected: len(services) > 0,
		Services: services,
	}
}

// requiresJavaScript estimates whether the static HTML carries real content
// or the page is a client-rendered shell.
func requiresJavaScript(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	bodyText := strings.TrimSpace(doc.Find("body").Text())
	if len(bodyText) < 200 {
		return true
	}
	if doc.Find("#root").Length() > 0 || doc.Find("#app").Length() > 0 {
		return true
	}
	return doc.Find("script").Length() > 20
}

// complexityScore weighs rendering and protection hurdles into a 0..1 score
// used to prioritize crawl effort and headless capacity.
func complexityScore(fp discovery.Fingerprint) float64 {
	score := 0.0
	if fp.RequiresJS {
		score += 0.3
	}
	if fp.AntiBot.Detected {
		score += 0.2 * float64(len(fp.AntiBot.Services))
	}
	for _, f := range fp.JSFrameworks {
		if f == "React" || f == "Vue" || f == "Angular" {
			score += 0.2
			break
		}
	}
	if fp.PageBytes > 100000 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
