package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseRetryAfter understands delay-seconds and HTTP-date values.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	if d := t.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

type cacheControl struct {
	maxAge    time.Duration
	hasMaxAge bool
	noStore   bool
	noCache   bool
}

func parseCacheControl(h http.Header) cacheControl {
	var cc cacheControl
	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		switch {
		case part == "no-store":
			cc.noStore = true
		case part == "no-cache":
			cc.noCache = true
		case strings.HasPrefix(part, "max-age="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age=")); err == nil && secs >= 0 {
				cc.maxAge = time.Duration(secs) * time.Second
				cc.hasMaxAge = true
			}
		}
	}
	return cc
}

// ttl bounds the tier TTL by the response's max-age. A zero return means
// "store but treat as stale immediately".
func (cc cacheControl) ttl(tier time.Duration) time.Duration {
	if cc.noCache {
		return 0
	}
	if cc.hasMaxAge && cc.maxAge < tier {
		return cc.maxAge
	}
	return tier
}
