package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"pkt.systems/etcdgw/internal/pathutil"
	"pkt.systems/etcdgw/internal/svcfields"
	"pkt.systems/etcdgw/internal/version"
	"pkt.systems/etcdgw/tlsutil"
	"pkt.systems/pslog"
)

// Gateway paths, relative to <server>/<version>/.
const (
	PathPut             = "kv/put"
	PathRange           = "kv/range"
	PathDeleteRange     = "kv/deleterange"
	PathTxn             = "kv/txn"
	PathCompaction      = "kv/compaction"
	PathLeaseGrant      = "lease/grant"
	PathLeaseRevoke     = "kv/lease/revoke"
	PathLeaseKeepAlive  = "lease/keepalive"
	PathLeaseTimeToLive = "kv/lease/timetolive"
	PathRoleAdd         = "auth/role/add"
	PathRoleGet         = "auth/role/get"
	PathRoleDelete      = "auth/role/delete"
	PathRoleList        = "auth/role/list"
	PathAuthEnable      = "auth/enable"
	PathAuthDisable     = "auth/disable"
	PathAuthenticate    = "auth/authenticate"
	PathUserAdd         = "auth/user/add"
	PathUserGet         = "auth/user/get"
	PathUserDelete      = "auth/user/delete"
	PathUserChangePass  = "auth/user/changepw"
	PathUserList        = "auth/user/list"
	PathRoleGrant       = "auth/role/grant"
	PathRoleRevoke      = "auth/role/revoke"
	PathUserGrant       = "auth/user/grant"
	PathUserRevoke      = "auth/user/revoke"
)

// Default client settings.
const (
	DefaultServer              = "127.0.0.1:2379"
	DefaultVersion             = "v3alpha"
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultMaxIdleConns        = 256
	DefaultMaxIdleConnsPerHost = 128
)

const (
	// HeaderToken carries the bearer token obtained from auth/authenticate.
	HeaderToken         = "Grpc-Metadata-Token"
	headerCorrelationID = "X-Correlation-Id"
	// EmptyBodyMarker is sent as the only field when a call has no parameters,
	// since some gateways reject an empty JSON object.
	EmptyBodyMarker = "etcdgw-client"
)

// Client talks to the JSON gateway of an etcd v3 cluster.
type Client struct {
	server                     string
	version                    string
	baseURL                    string
	httpClient                 *http.Client
	httpTimeout                time.Duration
	httpTraceEnabled           bool
	tracingEnabled             bool
	http2Enabled               bool
	bundlePath                 string
	bundlePathDisableExpansion bool
	logger                     pslog.Base
	session                    *Session
	pretty                     atomic.Bool
	metrics                    *clientMetrics
	tracer                     trace.Tracer
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient supplies the HTTP client used for every call. The client is
// owned by the gateway client from then on; its Timeout is replaced by the
// per-request timeout (see WithHTTPTimeout).
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		c.logger = svcfields.WithBase(logger, "client.gateway")
	}
}

// WithHTTPTimeout overrides the timeout applied to every gateway request.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithVersion selects the API version path segment (v3alpha, v3beta, v3).
func WithVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.version = v
		}
	}
}

// WithPretty enables simplified result shapes (see Result.Pretty).
func WithPretty(enabled bool) Option {
	return func(c *Client) {
		c.pretty.Store(enabled)
	}
}

// WithSession shares an authentication session between clients.
func WithSession(s *Session) Option {
	return func(c *Client) {
		if s != nil {
			c.session = s
		}
	}
}

// WithToken seeds the client session with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		if c.session == nil {
			c.session = NewSession("")
		}
		c.session.Set(token)
	}
}

// WithBundlePath configures a PEM bundle holding the CA used to verify the
// gateway and, optionally, a client certificate and key for mutual TLS.
// "$VARS" and a leading "~/" are expanded unless
// WithBundlePathDisableExpansion is also given.
func WithBundlePath(path string) Option {
	return func(c *Client) {
		c.bundlePath = strings.TrimSpace(path)
	}
}

// WithBundlePathDisableExpansion treats the WithBundlePath value literally.
func WithBundlePathDisableExpansion() Option {
	return func(c *Client) {
		c.bundlePathDisableExpansion = true
	}
}

// WithHTTPTrace emits net/http/httptrace events through the client logger.
func WithHTTPTrace() Option {
	return func(c *Client) {
		c.httpTraceEnabled = true
	}
}

// WithTracing wraps the transport with OpenTelemetry instrumentation so every
// gateway call produces an HTTP client span and propagates trace context.
func WithTracing() Option {
	return func(c *Client) {
		c.tracingEnabled = true
	}
}

// WithHTTP2 negotiates HTTP/2 with HTTPS gateways.
func WithHTTP2() Option {
	return func(c *Client) {
		c.http2Enabled = true
	}
}

// New creates a client for server (host:port or a full http(s) URL). An empty
// server selects DefaultServer.
//
//	cli, err := client.New("127.0.0.1:2379", client.WithVersion("v3"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := cli.Put(ctx, "/config/mode", "active"); err != nil {
//	    log.Fatal(err)
//	}
func New(server string, opts ...Option) (*Client, error) {
	c := &Client{
		server:      NormalizeServer(server),
		version:     DefaultVersion,
		httpTimeout: DefaultHTTPTimeout,
		logger:      pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initialize(); err != nil {
		return nil, err
	}
	return c, nil
}

// NormalizeServer trims trailing slashes and prefixes http:// when raw does not
// already name a scheme.
func NormalizeServer(raw string) string {
	server := strings.TrimRight(strings.TrimSpace(raw), "/")
	if server == "" {
		server = DefaultServer
	}
	if !strings.HasPrefix(server, "http") {
		server = "http://" + server
	}
	return server
}

func (c *Client) initialize() error {
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	if c.session == nil {
		c.session = NewSession("")
	}
	c.version = strings.Trim(strings.TrimSpace(c.version), "/")
	if c.version == "" {
		c.version = DefaultVersion
	}
	c.baseURL = c.server + "/" + c.version + "/"

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	} else {
		cloned := *c.httpClient
		c.httpClient = &cloned
	}
	ownedTransport := false
	if c.httpClient.Transport == nil {
		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			c.httpClient.Transport = base.Clone()
			ownedTransport = true
		}
	}
	if ownedTransport {
		if tr, ok := c.httpClient.Transport.(*http.Transport); ok {
			applyDefaultTransportTuning(tr)
		}
	}
	if strings.TrimSpace(c.bundlePath) != "" {
		bundlePath := c.bundlePath
		if !c.bundlePathDisableExpansion {
			expanded, err := pathutil.ExpandUserAndEnv(bundlePath)
			if err != nil {
				return fmt.Errorf("etcdgw: expand bundle path %q: %w", c.bundlePath, err)
			}
			bundlePath = expanded
			c.bundlePath = expanded
		}
		bundle, err := tlsutil.LoadBundle(bundlePath)
		if err != nil {
			return fmt.Errorf("etcdgw: load bundle %s: %w", bundlePath, err)
		}
		tr, ok := c.httpClient.Transport.(*http.Transport)
		if !ok || tr == nil {
			return fmt.Errorf("etcdgw: bundle path requires *http.Transport, got %T", c.httpClient.Transport)
		}
		cloned := tr.Clone()
		cloned.TLSClientConfig = bundle.ClientTLSConfig()
		c.httpClient.Transport = cloned
	}
	if c.http2Enabled {
		tr, ok := c.httpClient.Transport.(*http.Transport)
		if !ok || tr == nil {
			return fmt.Errorf("etcdgw: http2 requires *http.Transport, got %T", c.httpClient.Transport)
		}
		if _, err := http2.ConfigureTransports(tr); err != nil {
			return fmt.Errorf("etcdgw: configure http2: %w", err)
		}
	}
	if c.tracingEnabled {
		c.httpClient.Transport = otelhttp.NewTransport(c.httpClient.Transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "etcdgw.http " + strings.TrimPrefix(r.URL.Path, "/")
			}),
		)
	}
	if c.httpClient.Timeout > 0 && c.httpTimeout == DefaultHTTPTimeout {
		c.httpTimeout = c.httpClient.Timeout
	}
	c.httpClient.Timeout = 0
	if c.httpTimeout <= 0 {
		c.httpTimeout = DefaultHTTPTimeout
	}
	c.metrics = newClientMetrics(c.logger)
	c.tracer = otel.Tracer("pkt.systems/etcdgw/client")
	c.logInfo("client.init", "base_url", c.baseURL, "timeout", c.httpTimeout, "tls_bundle", c.bundlePath != "")
	return nil
}

func applyDefaultTransportTuning(tr *http.Transport) {
	if tr == nil {
		return
	}
	if tr.MaxIdleConns < DefaultMaxIdleConns {
		tr.MaxIdleConns = DefaultMaxIdleConns
	}
	if tr.MaxIdleConnsPerHost < DefaultMaxIdleConnsPerHost {
		tr.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
}

// BaseURL returns <server>/<version>/.
func (c *Client) BaseURL() string { return c.baseURL }

// Server returns the normalized server URL.
func (c *Client) Server() string { return c.server }

// Version returns the API version path segment.
func (c *Client) Version() string { return c.version }

// HTTPTimeout returns the per-request timeout.
func (c *Client) HTTPTimeout() time.Duration { return c.httpTimeout }

// SetPretty toggles simplified result shapes.
func (c *Client) SetPretty(enabled bool) { c.pretty.Store(enabled) }

// Pretty reports whether simplified result shapes are enabled.
func (c *Client) Pretty() bool { return c.pretty.Load() }

// Session returns the authentication session used by the client.
func (c *Client) Session() *Session { return c.session }

// SetToken stores token in the client session; it is sent on every
// subsequent request.
func (c *Client) SetToken(token string) { c.session.Set(token) }

// Token returns the current bearer token, if any.
func (c *Client) Token() string { return c.session.Token() }

// ClearToken drops the bearer token.
func (c *Client) ClearToken() { c.session.Clear() }

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	c.closeIdleConnections()
	return nil
}

// request runs one gateway call: params and options are expected to be
// transcoded already; options override params on overlapping keys.
func (c *Client) request(ctx context.Context, path string, params, options Params) (Body, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := mergeParams(params, options)
	if len(merged) == 0 {
		merged = Params{EmptyBodyMarker: 1}
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("etcdgw: encode %s request: %w", path, err)
	}
	ctx, span := c.tracer.Start(ctx, "etcdgw "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("etcdgw.path", path)),
	)
	defer span.End()
	start := time.Now()
	body, err := c.postJSON(ctx, path, payload)
	c.metrics.record(ctx, path, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if c.session.Observe(path) {
		c.logDebugCtx(ctx, "client.session.cleared", "path", path)
	}
	if c.Pretty() {
		delete(body, "header")
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload []byte) (Body, error) {
	c.logTraceCtx(ctx, "client.http.post.start", "path", path, "bytes", len(payload))
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	c.applyCorrelationHeader(ctx, req)
	c.session.Apply(req.Header)
	if tr := c.newHTTPTrace(ctx, path); tr != nil {
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), tr))
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.closeIdleConnections()
		}
		c.logErrorCtx(ctx, "client.http.post.transport_error", "path", path, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("etcdgw: %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logErrorCtx(ctx, "client.http.post.read_error", "path", path, "error", err)
		return nil, fmt.Errorf("etcdgw: %s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logWarnCtx(ctx, "client.http.post.error", "path", path, "status", resp.StatusCode, "duration", time.Since(start))
		return nil, decodeError(path, resp.StatusCode, data)
	}
	body, err := decodeBody(path, data)
	if err != nil {
		c.logWarnCtx(ctx, "client.http.post.parse_error", "path", path, "error", err)
		return nil, err
	}
	c.logTraceCtx(ctx, "client.http.post.success", "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	return body, nil
}

func decodeBody(path string, data []byte) (Body, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body Body
	if err := dec.Decode(&body); err != nil {
		return nil, &ParseError{Path: path, Body: data, Err: err}
	}
	if body == nil {
		return nil, &ParseError{Path: path, Body: data, Err: errors.New("response is not a JSON object")}
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after JSON object")
		}
		return nil, &ParseError{Path: path, Body: data, Err: err}
	}
	return body, nil
}

func (c *Client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.httpTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.httpTimeout)
}

func (c *Client) applyCorrelationHeader(ctx context.Context, req *http.Request) {
	if req.Header.Get(headerCorrelationID) != "" {
		return
	}
	id := CorrelationIDFromContext(ctx)
	if id == "" {
		id = GenerateCorrelationID()
	}
	req.Header.Set(headerCorrelationID, id)
}

type idleCloser interface {
	CloseIdleConnections()
}

func (c *Client) closeIdleConnections() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport := c.httpClient.Transport; transport != nil {
		if closer, ok := transport.(idleCloser); ok {
			closer.CloseIdleConnections()
		}
		return
	}
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		base.CloseIdleConnections()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) newHTTPTrace(ctx context.Context, path string) *httptrace.ClientTrace {
	if c == nil || !c.httpTraceEnabled {
		return nil
	}
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			fields := []any{"path", path, "reused", info.Reused, "was_idle", info.WasIdle}
			if conn := info.Conn; conn != nil {
				if remote := conn.RemoteAddr(); remote != nil {
					fields = append(fields, "remote", remote.String())
				}
			}
			c.logTraceCtx(ctx, "client.http.trace.got_conn", fields...)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			fields := []any{"path", path}
			if info.Err != nil {
				fields = append(fields, "error", info.Err)
			}
			c.logTraceCtx(ctx, "client.http.trace.wrote_request", fields...)
		},
		GotFirstResponseByte: func() {
			c.logTraceCtx(ctx, "client.http.trace.first_byte", "path", path)
		},
	}
}

func hasKey(keyvals []any, target string) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == target {
			return true
		}
	}
	return false
}

func (c *Client) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	if ctx == nil {
		return keyvals
	}
	cid := CorrelationIDFromContext(ctx)
	if cid == "" || hasKey(keyvals, "cid") {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	return append(enriched, "cid", cid)
}

func (c *Client) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Trace(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logErrorCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Error(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logInfo(msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, keyvals...)
}
