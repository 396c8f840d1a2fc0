package security

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

// HeadersMiddleware sets response hardening headers. Chat responses carry
// per-user history, so they are never cached.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	connect := "'self'"
	if extra := ConnectSources(cfg.AllowedOrigins); extra != "" {
		connect += " " + extra
	}
	csp := "default-src 'none'; " +
		"connect-src " + connect + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'; " +
		"form-action 'none'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Cache-Control", "no-store")
		c.Set("Content-Security-Policy", csp)

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}

// ConnectSources lists the allowed origins plus their websocket
// equivalents, so browser clients can reach /ws/chat. A wildcard origin
// adds nothing.
func ConnectSources(origins []string) string {
	var sources []string
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		sources = append(sources, origin)
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		switch u.Scheme {
		case "https":
			sources = append(sources, "wss://"+u.Host)
		case "http":
			sources = append(sources, "ws://"+u.Host)
		}
	}
	return strings.Join(sources, " ")
}
