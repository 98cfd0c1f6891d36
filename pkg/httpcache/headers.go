// Package httpcache writes HTTP caching headers for responses served from a cache
package httpcache

import (
	"fmt"
	"net/http"
	"time"
)

// HeaderSink is anything with response headers. http.ResponseWriter
// satisfies it.
type HeaderSink interface {
	Header() http.Header
}

// Setter writes caching headers using its clock for Expires.
type Setter struct {
	Now func() time.Time
}

// SetCacheHeaders writes public Cache-Control and Expires headers with the
// current time
func SetCacheHeaders(sink HeaderSink, maxAge time.Duration, sMaxAge ...time.Duration) {
	Setter{}.SetCacheHeaders(sink, maxAge, sMaxAge...)
}

// SetCacheHeaders sets
//
//	Cache-Control: public, max-age=<maxAge>[, s-maxage=<sMaxAge>]
//	Expires: <now + maxAge>
//
// Durations are truncated to whole seconds. Only the first sMaxAge is used.
func (s Setter) SetCacheHeaders(sink HeaderSink, maxAge time.Duration, sMaxAge ...time.Duration) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	value := fmt.Sprintf("public, max-age=%d", seconds(maxAge))
	if len(sMaxAge) > 0 {
		value += fmt.Sprintf(", s-maxage=%d", seconds(sMaxAge[0]))
	}

	h := sink.Header()
	h.Set("Cache-Control", value)
	h.Set("Expires", now().Add(maxAge).UTC().Format(http.TimeFormat))
}

// Middleware sets caching headers on every response of next before it runs
func (s Setter) Middleware(maxAge time.Duration, sMaxAge ...time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.SetCacheHeaders(w, maxAge, sMaxAge...)
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware is Setter.Middleware with the current time
func Middleware(maxAge time.Duration, sMaxAge ...time.Duration) func(http.Handler) http.Handler {
	return Setter{}.Middleware(maxAge, sMaxAge...)
}

func seconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
