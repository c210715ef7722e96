package compliance

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/metrics"
)

// Config controls Gate behavior.
type Config struct {
	UserAgent     string
	MinDelay      time.Duration
	RobotsTTL     time.Duration
	RobotsTimeout time.Duration
}

// Gate decides, per URL, whether fetching is permitted and enforces
// politeness pacing. The same transparent user-agent string is used for
// every request so robots policies and analytics can recognize the crawler.
type Gate struct {
	robots    *robotsCache
	limiter   *originLimiter
	userAgent string
	logger    *zap.Logger
}

// New constructs a Gate.
func New(cfg Config, logger *zap.Logger) *Gate {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 2 * time.Second
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = time.Hour
	}
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = 10 * time.Second
	}
	return &Gate{
		robots:    newRobotsCache(cfg.UserAgent, cfg.RobotsTTL, cfg.RobotsTimeout, logger),
		limiter:   newOriginLimiter(cfg.MinDelay),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// UserAgent returns the transparent crawler identity string.
func (g *Gate) UserAgent() string {
	return g.userAgent
}

// Headers returns the standard request headers with transparent
// identification.
func (g *Gate) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      g.userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"DNT":             "1",
	}
}

// CheckAllowed answers whether the origin's robots policy permits fetching
// the URL. Unreachable policies degrade to allowed with an explanatory
// reason so the condition stays observable.
func (g *Gate) CheckAllowed(ctx context.Context, rawURL string) (bool, string) {
	allowed, reason := g.robots.allowed(ctx, rawURL)
	g.logDecision(rawURL, allowed, reason, "robots")
	return allowed, reason
}

// EnforceRateLimit blocks the caller until the minimum inter-request
// interval for the URL's origin has elapsed. Every fetch-issuing component
// must route through this before the network call.
func (g *Gate) EnforceRateLimit(ctx context.Context, rawURL string) error {
	return g.limiter.wait(ctx, rawURL)
}

// Path fragments that identify non-content pages we never crawl.
var skipPathPatterns = []string{
	"/login", "/signin", "/sign-in", "/register", "/signup",
	"/logout", "/account", "/profile", "/settings",
	"/cart", "/checkout", "/payment", "/order",
	"/wp-admin", "/admin", "/dashboard",
	"/api/auth", "/oauth", "/sso",
	".pdf", ".zip", ".exe", ".dmg",
	"/download", "/file",
}

// Query parameter names that suggest session or tracking state.
var sessionParams = []string{"session", "token", "auth", "key", "sid"}

// ShouldCrawl filters out cross-domain links, known non-content paths and
// URLs carrying session/tracking query parameters.
func (g *Gate) ShouldCrawl(rawURL, baseURL string) (bool, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, "unparseable url"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return false, "unparseable base url"
	}

	if !strings.EqualFold(parsed.Host, base.Host) {
		return false, "external domain"
	}

	pathLower := strings.ToLower(parsed.Path)
	for _, pattern := range skipPathPatterns {
		if strings.Contains(pathLower, pattern) {
			return false, "excluded pattern: " + pattern
		}
	}

	if parsed.RawQuery != "" {
		queryLower := strings.ToLower(parsed.RawQuery)
		for _, param := range sessionParams {
			if strings.Contains(queryLower, param) {
				return false, "session parameter detected: " + param
			}
		}
	}

	return true, ""
}

// URL fragments that identify login-walled content.
var loginIndicators = []string{
	"login", "signin", "sign-in", "sign_in",
	"authentication", "password", "username",
	"member-only", "subscription", "paywall",
}

// Markup fragments that identify paywalls and login forms.
var paywallMarkers = []string{
	`class="paywall"`,
	`id="paywall"`,
	`data-paywall`,
	`type="password"`,
	`class="login-form"`,
	`id="login-form"`,
}

// IsPublicContent rejects pages whose URL or markup signals a login wall,
// paywall or noindex directive.
func (g *Gate) IsPublicContent(rawURL, html string) (bool, string) {
	urlLower := strings.ToLower(rawURL)
	for _, indicator := range loginIndicators {
		if strings.Contains(urlLower, indicator) {
			return false, "url suggests private content: " + indicator
		}
	}

	htmlLower := strings.ToLower(html)
	if strings.Contains(htmlLower, `name="robots" content="noindex"`) {
		return false, "page marked with noindex"
	}
	for _, marker := range paywallMarkers {
		if strings.Contains(htmlLower, marker) {
			return false, "private content detected: " + marker
		}
	}

	return true, ""
}

// ValidateRequest runs the complete pre-fetch validation: robots policy,
// crawl policy, then rate limiting. Page-level privacy checks run after the
// fetch via IsPublicContent since they need the markup.
func (g *Gate) ValidateRequest(ctx context.Context, rawURL, baseURL string) (bool, string) {
	if allowed, reason := g.CheckAllowed(ctx, rawURL); !allowed {
		return false, "compliance: " + reason
	}
	if ok, reason := g.ShouldCrawl(rawURL, baseURL); !ok {
		g.logDecision(rawURL, false, reason, "crawl_policy")
		return false, "policy: " + reason
	}
	if err := g.EnforceRateLimit(ctx, rawURL); err != nil {
		return false, "rate limit: " + err.Error()
	}
	return true, ""
}

func (g *Gate) logDecision(rawURL string, allowed bool, reason, check string) {
	if allowed {
		g.logger.Debug("compliance allow",
			zap.String("url", rawURL), zap.String("check", check))
		return
	}
	metrics.ObserveComplianceBlock(check)
	g.logger.Info("compliance block",
		zap.String("url", rawURL),
		zap.String("check", check),
		zap.String("reason", reason))
}
