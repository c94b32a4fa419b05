package metrics

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nci/geoserve/utils"
	"golang.org/x/time/rate"
)

type contextKey struct{}

// WithCollector stores the request collector in ctx.
func WithCollector(ctx context.Context, c *MetricsCollector) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the collector of the request, or nil outside the
// monitor middleware.
func FromContext(ctx context.Context) *MetricsCollector {
	c, _ := ctx.Value(contextKey{}).(*MetricsCollector)
	return c
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	length     int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.written {
		return
	}
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
	rw.written = true
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.length += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Monitor records every request it wraps: a RequestData record kept by DAO
// and logged by Logger, plus the Prometheus request metrics.
type Monitor struct {
	Logger      Logger
	DAO         RequestDAO
	MaxBodySize int
	Verbose     bool
}

func (m *Monitor) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		var peek []byte
		if r.Body != nil && m.MaxBodySize > 0 {
			peek, _ = io.ReadAll(io.LimitReader(r.Body, int64(m.MaxBodySize)))
			r.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(peek), r.Body), r.Body}
		}

		collector := NewMetricsCollector(m.Logger, m.DAO)
		collector.Start(r, peek, r.ContentLength)
		ows := DetectOWS(r, peek)
		collector.SetOWS(ows.Service, ows.Version, ows.Request)
		collector.AddResource(ows.Resources...)
		w.Header().Set("X-Request-Id", collector.Info.ID)

		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r.WithContext(WithCollector(r.Context(), collector)))

		cancelled := r.Context().Err() != nil
		collector.Finish(wrapped.statusCode, wrapped.length, wrapped.Header().Get("Content-Type"), cancelled)

		category := Categorise(r.URL.Path)
		httpRequestsTotal.WithLabelValues(category, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(category).Observe(time.Since(start).Seconds())
		if m.Verbose {
			log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		}
	})
}

// Recover answers panics with 500 and records them on the collector.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				panicRecoveries.Inc()
				msg := fmt.Sprintf("%v", err)
				log.Printf("panic recovered: %s %s: %s", r.Method, r.URL.Path, msg)
				if c := FromContext(r.Context()); c != nil {
					c.SetError(msg)
				}
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimit rejects requests beyond the limiter with 429. A nil limiter
// lets everything through.
func RateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			rateLimitRejects.Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewLimiter returns nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// OWSInfo describes an OGC request.
type OWSInfo struct {
	Service   string
	Version   string
	Request   string
	Resources []string
}

// DetectOWS reads service, version, request and resources from the KVP
// parameters or from the start of an XML body.
func DetectOWS(r *http.Request, body []byte) OWSInfo {
	var info OWSInfo
	if Categorise(r.URL.Path) != CategoryOWS {
		return info
	}
	if strings.HasPrefix(r.URL.Path, "/wps") {
		info.Service = "WPS"
	}

	params, _ := utils.ParseQuery(r.URL.RawQuery)
	if v := params.Get("service"); v != "" {
		info.Service = strings.ToUpper(v)
	}
	info.Version = params.Get("version")
	info.Request = params.Get("request")
	for _, key := range []string{"identifier", "typename", "typenames", "layers", "coverageid"} {
		for _, v := range params[key] {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					info.Resources = append(info.Resources, id)
				}
			}
		}
	}

	if info.Request == "" && len(body) > 0 {
		peekXML(body, &info)
	}
	if info.Service == "" && info.Request != "" {
		info.Service = "WPS"
	}
	return info
}

// peekXML inspects the root element and its direct ows:Identifier child.
// The body may be truncated, so decoding errors end the scan silently.
func peekXML(body []byte, info *OWSInfo) {
	d := utils.NewXMLDecoder(bytes.NewReader(body))
	depth := 0
	inIdentifier := false
	for {
		tok, err := d.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				info.Request = t.Name.Local
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "service":
						info.Service = strings.ToUpper(a.Value)
					case "version":
						info.Version = a.Value
					}
				}
			}
			inIdentifier = depth == 2 && t.Name.Local == "Identifier"
		case xml.CharData:
			if inIdentifier {
				if id := strings.TrimSpace(string(t)); id != "" {
					info.Resources = append(info.Resources, id)
				}
			}
		case xml.EndElement:
			if inIdentifier && depth == 2 {
				return
			}
			depth--
		}
	}
}
