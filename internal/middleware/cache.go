package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/config"
	"github.com/iliyamo/casting-agency/internal/metrics"
)

// captureWriter copies up to limit bytes of the body while forwarding it.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		cw.buf.Write(b[:min(int64(len(b)), remain)])
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

func (cw *captureWriter) truncated() bool {
	return cw.limit > 0 && cw.size > cw.limit
}

// cacheKey is prefix:collection:g<gen>:sha1(route, query[, user]) so a
// whole collection can be dropped with one pattern, and a body read before
// a write can never be served once that write has bumped gen.
func cacheKey(cfg config.CacheConfig, collection string, gen int64, c echo.Context) string {
	parts := []string{"route", c.Path(), "q", c.Request().URL.RawQuery}
	if strings.EqualFold(cfg.KeyStrategy, "route_query_user") {
		parts = append(parts, "user", Subject(c))
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%s:g%d:%x", cfg.Prefix, collection, gen, sum[:])
}

// generationKey counts successful writes to collection. It lives outside
// the prefix:collection:* pattern Invalidate deletes.
func generationKey(prefix, collection string) string {
	return prefix + ":gen:" + collection
}

func generation(ctx context.Context, rdb *redis.Client, prefix, collection string) (int64, error) {
	n, err := rdb.Get(ctx, generationKey(prefix, collection)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// NewListCache caches successful responses to the configured methods of
// one collection ("movies" or "actors") and drops every cached entry of
// that collection after a successful write to it.
func NewListCache(cfg config.CacheConfig, rdb *redis.Client, collection string, m *metrics.Metrics, log logrus.FieldLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := strings.ToUpper(c.Request().Method)
			if !cfg.Methods[method] {
				err := next(c)
				if err == nil && isWrite(method) && c.Response().Status < http.StatusMultipleChoices {
					ctx := context.WithoutCancel(c.Request().Context())
					if ierr := Invalidate(ctx, rdb, cfg.Prefix, collection); ierr != nil {
						log.WithError(ierr).WithField("collection", collection).Warn("cache invalidation failed")
					}
				}
				return err
			}

			ctx := c.Request().Context()
			// read before the handler touches the store
			gen, err := generation(ctx, rdb, cfg.Prefix, collection)
			if err != nil {
				log.WithError(err).WithField("collection", collection).Warn("cache generation unavailable; bypassing cache")
				return next(c)
			}
			key := cacheKey(cfg, collection, gen, c)

			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, echo.HeaderContentLength) {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					m.CacheResult("hit")
					return c.Blob(status, hdr.Get(echo.HeaderContentType), body)
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			m.CacheResult("miss")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || cw.truncated() {
				return nil
			}

			hdr := storableHeader(c.Response().Header())
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err == nil {
				err = rdb.SetEx(context.WithoutCancel(ctx), key, payload, ttl).Err()
			}
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("cache store failed")
			}
			return nil
		}
	}
}

// Invalidate bumps the generation of collection, then deletes its cached
// entries. Lists still in flight from before the bump store under the old
// generation, which no later request looks up.
func Invalidate(ctx context.Context, rdb *redis.Client, prefix, collection string) error {
	if err := rdb.Incr(ctx, generationKey(prefix, collection)).Err(); err != nil {
		return err
	}
	iter := rdb.Scan(ctx, 0, prefix+":"+collection+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// storableHeader drops the per-request headers other middleware sets.
func storableHeader(h http.Header) http.Header {
	out := h.Clone()
	for k := range out {
		if k == "X-Cache" || k == echo.HeaderXRequestID || strings.HasPrefix(k, "X-Ratelimit") {
			delete(out, k)
		}
	}
	return out
}
