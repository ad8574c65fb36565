package mw

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// ResponseCache keeps successful GET responses for a short time. Snapshots only change
// on a tick, so repeated reads within the TTL are answered from memory.
type ResponseCache struct {
	entries *cache.Cache
	ttl     time.Duration
}

// NewResponseCache creates a cache whose entries expire after ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries: cache.New(ttl, 2*ttl),
		ttl:     ttl,
	}
}

// Invalidate drops every cached response.
func (rc *ResponseCache) Invalidate() {
	rc.entries.Flush()
}

// Len returns the number of cached responses, expired ones included.
func (rc *ResponseCache) Len() int {
	return rc.entries.ItemCount()
}

type snapshotResponse struct {
	code   int
	header http.Header
	body   []byte
}

// teeWriter copies the response body while it is written to the client.
type teeWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware serves cached GET responses. A request with "Cache-Control: no-cache"
// skips the lookup and replaces the entry. Any other method that succeeds invalidates
// the cache, since it may have changed device state.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			if c.Writer.Status() < http.StatusBadRequest {
				rc.Invalidate()
			}
			return
		}

		key := c.Request.URL.RequestURI()
		if !noCache(c.Request) {
			if v, ok := rc.entries.Get(key); ok {
				rc.replay(c, v.(snapshotResponse))
				return
			}
		}

		tee := teeWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = tee
		c.Next()

		if code := tee.Status(); code >= http.StatusOK && code < http.StatusMultipleChoices {
			rc.entries.Set(key, snapshotResponse{
				code:   code,
				header: tee.Header().Clone(),
				body:   tee.buf.Bytes(),
			}, rc.ttl)
		}
	}
}

func (rc *ResponseCache) replay(c *gin.Context, resp snapshotResponse) {
	h := c.Writer.Header()
	for k, v := range resp.header {
		h[k] = v
	}
	h.Set("X-Cache", "HIT")
	c.Writer.WriteHeader(resp.code)
	_, _ = c.Writer.Write(resp.body)
	c.Abort()
}

func noCache(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Cache-Control")), "no-cache")
}
