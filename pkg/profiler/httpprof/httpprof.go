// Package httpprof profiles net/http requests. The middleware gives every
// request its own Profiler, reachable from handlers through
// profiler.FromContext, and saves it once the handler returns.
package httpprof

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/spanprof/internal/memstat"
	"github.com/coral-mesh/spanprof/pkg/profiler"
)

// DefaultMaxBody bounds the request body kept as raw body.
const DefaultMaxBody = 64 << 10

// RequestIDHeader carries the generated request id on the response.
const RequestIDHeader = "X-Request-Id"

// Options configures the middleware.
type Options struct {
	// Storage receives every saved profile. Required.
	Storage profiler.Storage
	// Group is applied to every request profile.
	Group string
	// Identify names the profile. Defaults to "METHOD /path".
	Identify func(*http.Request) string
	// Hook is installed as the save hook of every request profiler.
	Hook profiler.SaveHook
	// MaxBody bounds body capture. Zero means DefaultMaxBody, negative
	// disables capture.
	MaxBody int64
	// Memory defaults to the process high-water mark.
	Memory memstat.Sampler
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Middleware profiles requests.
type Middleware struct {
	opts   Options
	logger zerolog.Logger
}

// New creates the middleware.
func New(opts Options) *Middleware {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "httpprof").Logger()
	}
	if opts.Identify == nil {
		opts.Identify = func(r *http.Request) string { return r.Method + " " + r.URL.Path }
	}
	if opts.MaxBody == 0 {
		opts.MaxBody = DefaultMaxBody
	}
	if opts.Memory == nil {
		opts.Memory = memstat.Default(logger)
	}
	return &Middleware{opts: opts, logger: logger}
}

// Handler wraps next with request profiling.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set(RequestIDHeader, requestID)

		raw := m.captureBody(r)
		wrapped := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}

		var req *http.Request
		p, err := profiler.New(profiler.Config{
			Identifier: m.opts.Identify(r),
			Group:      m.opts.Group,
			Storage:    m.opts.Storage,
			AutoStart:  true,
			Context: func() profiler.ExecutionContext {
				return requestContext(req, wrapped, raw, requestID)
			},
			Logger: &m.logger,
			Memory: m.opts.Memory,
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Request not profiled")
			next.ServeHTTP(w, r)
			return
		}
		if m.opts.Hook != nil {
			_ = p.OnSave(m.opts.Hook)
		}
		req = r.WithContext(profiler.NewContext(r.Context(), p))

		defer func() {
			rec := recover()
			if rec != nil {
				p.OnUncaughtError(rec)
				if !wrapped.wroteHeader {
					wrapped.status = http.StatusInternalServerError
				}
			}
			m.save(req, p)
			if rec != nil {
				panic(rec)
			}
		}()
		next.ServeHTTP(wrapped, req)
	})
}

func (m *Middleware) save(r *http.Request, p *profiler.Profiler) {
	res, err := p.Save(context.WithoutCancel(r.Context()))
	if err != nil {
		m.logger.Warn().Err(err).Str("identifier", p.Identifier()).Msg("Failed to save request profile")
		return
	}
	m.logger.Debug().
		Str("identifier", p.Identifier()).
		Stringer("status", res.Status).
		Int64("profile_id", res.ProfileID).
		Msg("Request profiled")
}

// captureBody reads up to MaxBody bytes and puts them back in front of the
// remaining stream so the handler still sees the whole body.
func (m *Middleware) captureBody(r *http.Request) []byte {
	if m.opts.MaxBody < 0 || r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, m.opts.MaxBody))
	if err != nil {
		m.logger.Debug().Err(err).Msg("Body capture failed")
	}
	r.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	return buf
}

type replayBody struct {
	io.Reader
	io.Closer
}

// Wrap returns the middleware as a plain handler decorator.
func Wrap(opts Options) func(http.Handler) http.Handler {
	return New(opts).Handler
}

func requestContext(r *http.Request, w *statusResponseWriter, raw []byte, requestID string) profiler.ExecutionContext {
	ec := profiler.ExecutionContext{
		Method:    r.Method,
		URL:       RequestURL(r),
		Status:    w.status,
		IP:        ClientIP(r),
		Referer:   r.Referer(),
		UserAgent: r.UserAgent(),
		Headers:   flatten(w.Header()),
		Query:     formValues(r.URL.Query()),
		Cookies:   cookies(r),
		Server:    serverVars(r, requestID),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if r.MultipartForm != nil {
			ec.Body = formValues(r.MultipartForm.Value)
			ec.Files = uploadedFiles(r)
		}
	case "application/x-www-form-urlencoded":
		ec.RawBody = string(raw)
		if values, err := url.ParseQuery(string(raw)); err == nil {
			ec.Body = formValues(values)
		}
	case "application/json":
		ec.RawBody = string(raw)
		var body map[string]any
		if json.Unmarshal(raw, &body) == nil {
			ec.Body = body
		}
	default:
		ec.RawBody = string(raw)
	}
	return ec
}

// RequestURL rebuilds the absolute URL the client asked for, honouring
// X-Forwarded-Proto. Trailing "/", "?" and "&" are trimmed.
func RequestURL(r *http.Request) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return strings.TrimRight(scheme+"://"+host+r.URL.RequestURI(), "/?&")
}

// clientIPHeaders are consulted in order; the first public address wins.
var clientIPHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
	"Client-IP",
	"X-Forwarded-For",
	"X-Forwarded",
	"Forwarded-For",
	"Forwarded",
	"X-Cluster-Client-IP",
	"X-Real-IP",
}

// ClientIP returns the first public address found in the proxy headers or
// the remote address. Private, loopback and reserved addresses are skipped.
func ClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		if ip, ok := publicIP(r.Header.Get(h)); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := publicIP(host); ok {
		return ip
	}
	return ""
}

func publicIP(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	first, _, _ := strings.Cut(v, ",")
	first = strings.TrimSpace(first)
	// RFC 7239 form: for=192.0.2.60;proto=http
	if k, rest, ok := strings.Cut(first, "="); ok && strings.EqualFold(k, "for") {
		first, _, _ = strings.Cut(rest, ";")
		first = strings.Trim(first, `"[]`)
	}
	addr, err := netip.ParseAddr(first)
	if err != nil {
		return "", false
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() || reserved(addr) {
		return "", false
	}
	return addr.String(), true
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func reserved(addr netip.Addr) bool {
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// serverHeaderSkip lists request headers that are stored elsewhere or must
// not be persisted.
var serverHeaderSkip = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
	"Referer":             true,
	"User-Agent":          true,
	"Host":                true,
	"Connection":          true,
	"Accept":              true,
	"Accept-Encoding":     true,
	"Accept-Language":     true,
	"Cache-Control":       true,
}

func serverVars(r *http.Request, requestID string) map[string]string {
	vars := map[string]string{
		"REQUEST_ID":      requestID,
		"SERVER_PROTOCOL": r.Proto,
	}
	for name, values := range r.Header {
		if serverHeaderSkip[name] || isClientIPHeader(name) {
			continue
		}
		vars["HTTP_"+strings.ToUpper(strings.ReplaceAll(name, "-", "_"))] = strings.Join(values, ", ")
	}
	return vars
}

func isClientIPHeader(name string) bool {
	for _, h := range clientIPHeaders {
		if http.CanonicalHeaderKey(h) == name {
			return true
		}
	}
	return false
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// formValues keeps single values as strings and repeated keys as lists.
func formValues(v map[string][]string) map[string]any {
	out := make(map[string]any, len(v))
	for k, vals := range v {
		if len(vals) == 1 {
			out[k] = vals[0]
		} else {
			out[k] = vals
		}
	}
	return out
}

func cookies(r *http.Request) map[string]string {
	out := make(map[string]string)
	for _, c := range r.Cookies() {
		out[c.Name] = c.Value
	}
	return out
}

func uploadedFiles(r *http.Request) []profiler.UploadedFile {
	var files []profiler.UploadedFile
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			files = append(files, profiler.UploadedFile{
				Name: fh.Filename,
				Type: fh.Header.Get("Content-Type"),
				Size: fh.Size,
			})
		}
	}
	return files
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code.
type statusResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
