package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crynn/browserstore/index"
	"github.com/crynn/browserstore/telemetry"
)

// CookiePolicy controls how the jar normalizes cookies at Set time.
type CookiePolicy struct {
	// UpgradeSecureOnTLS forces secure=true for cookies set over https,
	// regardless of the Secure attribute.
	UpgradeSecureOnTLS bool

	// DowngradeSameSiteNone stores SameSite=None (and absent SameSite)
	// as Lax.
	DowngradeSameSiteNone bool
}

// DefaultCookiePolicy returns the jar's production policy.
func DefaultCookiePolicy() CookiePolicy {
	return CookiePolicy{
		UpgradeSecureOnTLS:    true,
		DowngradeSameSiteNone: true,
	}
}

// CookieJar stores cookies in the index, keyed by (name, domain, path).
// Setting the same triple twice replaces the row.
type CookieJar struct {
	idx    *index.DB
	policy CookiePolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewCookieJar builds a jar over the given index.
func NewCookieJar(idx *index.DB, policy CookiePolicy, opts ...Option) *CookieJar {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &CookieJar{
		idx:    idx,
		policy: policy,
		logger: o.logger,
		now:    o.now,
	}
}

// Set parses one Set-Cookie line received for requestURL and upserts the
// resulting cookie. Returns ErrParse when the line has no name=value pair;
// callers treat that as a no-op for the offending cookie.
func (j *CookieJar) Set(ctx context.Context, raw string, requestURL *url.URL) error {
	start := j.now()
	cookie, err := j.parseSetCookie(raw, requestURL)
	if err != nil {
		telemetry.RecordOp(ctx, "cookies", "set", "error", j.now().Sub(start))
		return err
	}

	if err := j.idx.UpsertCookie(ctx, cookie); err != nil {
		telemetry.RecordOp(ctx, "cookies", "set", "error", j.now().Sub(start))
		return fmt.Errorf("storing cookie: %w", err)
	}
	telemetry.RecordOp(ctx, "cookies", "set", "success", j.now().Sub(start))
	return nil
}

// Get returns the cookies that apply to requestURL: domain exact or
// dot-suffix match, path prefix match, not expired, and secure cookies
// only over https. Returned cookies get their last_accessed updated.
// Order is deterministic (record key order).
func (j *CookieJar) Get(ctx context.Context, requestURL *url.URL) ([]index.Cookie, error) {
	start := j.now()
	all, err := j.idx.ListCookies(ctx)
	if err != nil {
		return nil, err
	}

	now := j.now()
	host := requestURL.Hostname()
	path := requestURL.Path
	if path == "" {
		path = "/"
	}
	tls := requestURL.Scheme == "https"

	var matched []index.Cookie
	for _, c := range all {
		if !domainMatch(host, c.Domain) {
			continue
		}
		if !strings.HasPrefix(path, c.Path) {
			continue
		}
		if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			continue
		}
		if c.Secure && !tls {
			continue
		}
		matched = append(matched, c)
	}

	if err := j.idx.TouchCookies(ctx, matched, now); err != nil {
		j.logger.Warn("updating cookie access times", "error", err)
	}

	telemetry.RecordOp(ctx, "cookies", "get", "success", j.now().Sub(start))
	return matched, nil
}

// Delete removes one cookie by its (name, domain, path) triple.
func (j *CookieJar) Delete(ctx context.Context, name, domain, path string) error {
	return j.idx.DeleteCookie(ctx, name, domain, path)
}

// Count returns the number of stored cookies.
func (j *CookieJar) Count(ctx context.Context) (int64, error) {
	return j.idx.CookieCount(ctx)
}

// Cleanup deletes cookies whose expiry is strictly in the past. Session
// cookies are never touched.
func (j *CookieJar) Cleanup(ctx context.Context) (int, error) {
	deleted, err := j.idx.DeleteExpiredCookies(ctx, j.now())
	if err != nil {
		return 0, fmt.Errorf("deleting expired cookies: %w", err)
	}
	if deleted > 0 {
		telemetry.RecordCleanupDeletions(ctx, "cookies", "expired", deleted, 0)
	}
	return deleted, nil
}

// parseSetCookie parses a Set-Cookie line, applying request defaults and
// the jar policy.
func (j *CookieJar) parseSetCookie(raw string, requestURL *url.URL) (*index.Cookie, error) {
	segments := strings.Split(raw, ";")

	name, value, ok := strings.Cut(strings.TrimSpace(segments[0]), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrParse, raw)
	}

	now := j.now()
	c := &index.Cookie{
		Name:         name,
		Value:        strings.TrimSpace(value),
		Domain:       requestURL.Hostname(),
		Path:         requestURL.Path,
		SameSite:     index.SameSiteLax,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if c.Path == "" {
		c.Path = "/"
	}

	var expires *time.Time
	var maxAge *time.Duration

	for _, segment := range segments[1:] {
		attr, val, _ := strings.Cut(strings.TrimSpace(segment), "=")
		val = strings.TrimSpace(val)

		switch strings.ToLower(strings.TrimSpace(attr)) {
		case "domain":
			if val != "" {
				c.Domain = strings.ToLower(strings.TrimPrefix(val, "."))
			}
		case "path":
			if val != "" {
				c.Path = val
			}
		case "expires":
			if t, err := http.ParseTime(val); err == nil {
				t = t.UTC()
				expires = &t
			}
		case "max-age":
			if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
				d := time.Duration(secs) * time.Second
				maxAge = &d
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		case "samesite":
			switch strings.ToLower(val) {
			case "strict":
				c.SameSite = index.SameSiteStrict
			case "lax":
				c.SameSite = index.SameSiteLax
			case "none":
				c.SameSite = index.SameSiteNone
			}
		}
	}

	// Max-Age wins over Expires when both are present.
	if maxAge != nil {
		t := now.Add(*maxAge)
		c.ExpiresAt = &t
	} else if expires != nil {
		c.ExpiresAt = expires
	}

	if j.policy.DowngradeSameSiteNone && c.SameSite == index.SameSiteNone {
		c.SameSite = index.SameSiteLax
	}
	if j.policy.UpgradeSecureOnTLS && requestURL.Scheme == "https" {
		c.Secure = true
	}

	return c, nil
}

// domainMatch reports whether a cookie set for domain applies to host:
// exact match, or host is a subdomain (dot-suffix match).
func domainMatch(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
