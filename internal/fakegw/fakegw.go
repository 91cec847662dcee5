// Package fakegw serves an in-memory imitation of the etcd v3 JSON gateway.
// It speaks the same wire shapes as the real gateway (base64 keys and values,
// 64-bit integers as strings, zero values omitted) so client, snapshot and CLI
// tests run without an etcd cluster.
package fakegw

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/etcdgw/internal/clock"
	"pkt.systems/pslog"
)

// gRPC status codes reported in gateway error documents.
const (
	codeInvalidArgument    = 3
	codeNotFound           = 5
	codeFailedPrecondition = 9
	codeOutOfRange         = 11
	codeUnauthenticated    = 16
)

const firstLeaseID int64 = 0x694d7c2a1b3c0001

// Request is one call recorded by the server.
type Request struct {
	Path          string
	Token         string
	CorrelationID string
	Body          map[string]any
}

// Option customises a Server.
type Option func(*Server)

// WithVersion sets the API version path segment served (default v3).
func WithVersion(version string) Option {
	return func(s *Server) { s.version = strings.Trim(version, "/") }
}

// WithClock drives lease expiry from clk.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clock = clk }
}

// WithLogger logs every request.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithoutKeepAliveEnvelope answers lease/keepalive with a bare message
// instead of the {"result": ...} stream envelope.
func WithoutKeepAliveEnvelope() Option {
	return func(s *Server) { s.keepAliveEnvelope = false }
}

type entry struct {
	key            string
	value          string
	createRevision int64
	modRevision    int64
	version        int64
	lease          int64
}

type lease struct {
	id      int64
	ttl     int64
	expires time.Time
	keys    map[string]struct{}
}

type permission struct {
	permType int64
	key      string
	rangeEnd string
}

type user struct {
	password string
	roles    map[string]struct{}
}

// Server is an http.Handler imitating the gateway.
type Server struct {
	mu                sync.Mutex
	version           string
	clock             clock.Clock
	logger            pslog.Logger
	keepAliveEnvelope bool

	revision  int64
	compacted int64
	kvs       map[string]*entry
	leases    map[int64]*lease
	nextLease int64

	authEnabled bool
	users       map[string]*user
	roles       map[string][]permission
	tokens      map[string]string
	tokenSeq    int

	requests []Request
}

// New returns an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		version:           "v3",
		logger:            pslog.NoopLogger(),
		keepAliveEnvelope: true,
		revision:          1,
		kvs:               make(map[string]*entry),
		leases:            make(map[int64]*lease),
		nextLease:         firstLeaseID,
		users:             make(map[string]*user),
		roles:             make(map[string][]permission),
		tokens:            make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.Or(s.clock)
	return s
}

// Start serves a new Server on a loopback listener closed by tb.Cleanup and
// returns it with its base URL.
func Start(tb testing.TB, opts ...Option) (*Server, string) {
	tb.Helper()
	s := New(opts...)
	srv := httptest.NewServer(s)
	tb.Cleanup(srv.Close)
	return s, srv.URL
}

// Version returns the API version path segment served.
func (s *Server) Version() string { return s.version }

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent call.
func (s *Server) LastRequest() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

// Revision returns the current store revision.
func (s *Server) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// AuthEnabled reports whether authentication is on.
func (s *Server) AuthEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authEnabled
}

type gwError struct {
	status  int
	code    int
	message string
}

func (e *gwError) Error() string { return e.message }

func errorf(status, code int, format string, args ...any) *gwError {
	return &gwError{status: status, code: code, message: fmt.Sprintf(format, args...)}
}

type handler func(s *Server, req map[string]any) (map[string]any, *gwError)

var routes = map[string]handler{
	"kv/put":              (*Server).put,
	"kv/range":            (*Server).rangeKeys,
	"kv/deleterange":      (*Server).deleteRange,
	"kv/compaction":       (*Server).compaction,
	"lease/grant":         (*Server).leaseGrant,
	"kv/lease/revoke":     (*Server).leaseRevoke,
	"lease/keepalive":     (*Server).leaseKeepAlive,
	"kv/lease/timetolive": (*Server).leaseTimeToLive,
	"auth/enable":         (*Server).authEnable,
	"auth/disable":        (*Server).authDisable,
	"auth/authenticate":   (*Server).authenticate,
	"auth/role/add":       (*Server).roleAdd,
	"auth/role/get":       (*Server).roleGet,
	"auth/role/delete":    (*Server).roleDelete,
	"auth/role/list":      (*Server).roleList,
	"auth/role/grant":     (*Server).roleGrant,
	"auth/role/revoke":    (*Server).roleRevoke,
	"auth/user/add":       (*Server).userAdd,
	"auth/user/get":       (*Server).userGet,
	"auth/user/delete":    (*Server).userDelete,
	"auth/user/changepw":  (*Server).userChangePassword,
	"auth/user/list":      (*Server).userList,
	"auth/user/grant":     (*Server).userGrant,
	"auth/user/revoke":    (*Server).userRevoke,
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + s.version + "/"
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, errorf(http.StatusNotFound, codeNotFound, "Not Found"))
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)
	route, ok := routes[path]
	if !ok {
		writeError(w, errorf(http.StatusNotFound, codeNotFound, "Not Found"))
		return
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeError(w, errorf(http.StatusBadRequest, codeInvalidArgument, "invalid JSON: %v", err))
		return
	}
	token := r.Header.Get("Grpc-Metadata-Token")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Request{
		Path:          path,
		Token:         token,
		CorrelationID: r.Header.Get("X-Correlation-Id"),
		Body:          body,
	})
	s.logger.Debug("fakegw.request", "path", path, "token", token != "")
	s.expireLeasesLocked()
	if s.authEnabled && path != "auth/authenticate" {
		if _, ok := s.tokens[token]; !ok {
			writeError(w, errorf(http.StatusUnauthorized, codeUnauthenticated, "etcdserver: invalid auth token"))
			return
		}
	}
	resp, gerr := route(s, body)
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, e *gwError) {
	writeJSON(w, e.status, map[string]any{"error": e.message, "code": e.code, "message": e.message})
}

func (s *Server) header() map[string]any {
	return map[string]any{
		"cluster_id": "14841639068965178418",
		"member_id":  "10276657743932975437",
		"revision":   itoa(s.revision),
		"raft_term":  "2",
	}
}

func (s *Server) reply(fields ...any) map[string]any {
	out := map[string]any{"header": s.header()}
	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i].(string)] = fields[i+1]
	}
	return out
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func bytesParam(req map[string]any, name string) (string, *gwError) {
	raw, ok := req[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", errorf(http.StatusBadRequest, codeInvalidArgument, "%s: expected base64 string", name)
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", errorf(http.StatusBadRequest, codeInvalidArgument, "%s: %v", name, err)
	}
	return string(decoded), nil
}

func intParam(req map[string]any, name string) int64 {
	switch v := req[name].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func boolParam(req map[string]any, name string) bool {
	b, _ := req[name].(bool)
	return b
}

func stringParam(req map[string]any, name string) string {
	s, _ := req[name].(string)
	return s
}

func inRange(key, start, end string) bool {
	switch end {
	case "":
		return key == start
	case "\x00":
		return key >= start
	}
	return key >= start && key < end
}

func (s *Server) selectLocked(start, end string) []*entry {
	var out []*entry
	for key, e := range s.kvs {
		if inRange(key, start, end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func kvJSON(e *entry, keysOnly bool) map[string]any {
	out := map[string]any{
		"key":             b64(e.key),
		"create_revision": itoa(e.createRevision),
		"mod_revision":    itoa(e.modRevision),
		"version":         itoa(e.version),
	}
	if !keysOnly && e.value != "" {
		out["value"] = b64(e.value)
	}
	if e.lease != 0 {
		out["lease"] = itoa(e.lease)
	}
	return out
}

func (s *Server) put(req map[string]any) (map[string]any, *gwError) {
	key, gerr := bytesParam(req, "key")
	if gerr != nil {
		return nil, gerr
	}
	if key == "" {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: key is not provided")
	}
	value, gerr := bytesParam(req, "value")
	if gerr != nil {
		return nil, gerr
	}
	leaseID := intParam(req, "lease")
	if leaseID != 0 {
		if _, ok := s.leases[leaseID]; !ok {
			return nil, errorf(http.StatusNotFound, codeNotFound, "etcdserver: requested lease not found")
		}
	}
	prev, existed := s.kvs[key]
	if !existed && (boolParam(req, "ignore_value") || boolParam(req, "ignore_lease")) {
		return nil, errorf(http.StatusNotFound, codeNotFound, "etcdserver: key not found")
	}
	s.revision++
	next := &entry{key: key, value: value, createRevision: s.revision, modRevision: s.revision, version: 1, lease: leaseID}
	if existed {
		snapshot := *prev
		prev = &snapshot
		next.createRevision = prev.createRevision
		next.version = prev.version + 1
		if boolParam(req, "ignore_value") {
			next.value = prev.value
		}
		if boolParam(req, "ignore_lease") {
			next.lease = prev.lease
		}
		if l, ok := s.leases[prev.lease]; ok && prev.lease != next.lease {
			delete(l.keys, key)
		}
	}
	if l, ok := s.leases[next.lease]; ok {
		l.keys[key] = struct{}{}
	}
	s.kvs[key] = next
	resp := s.reply()
	if existed && boolParam(req, "prev_kv") {
		resp["prev_kv"] = kvJSON(prev, false)
	}
	return resp, nil
}

func (s *Server) rangeKeys(req map[string]any) (map[string]any, *gwError) {
	key, gerr := bytesParam(req, "key")
	if gerr != nil {
		return nil, gerr
	}
	end, gerr := bytesParam(req, "range_end")
	if gerr != nil {
		return nil, gerr
	}
	if rev := intParam(req, "revision"); rev > s.revision {
		return nil, errorf(http.StatusBadRequest, codeOutOfRange, "etcdserver: mvcc: required revision is a future revision")
	} else if rev > 0 && rev < s.compacted {
		return nil, errorf(http.StatusBadRequest, codeOutOfRange, "etcdserver: mvcc: required revision has been compacted")
	}
	matched := s.selectLocked(key, end)
	filtered := matched[:0]
	for _, e := range matched {
		if v := intParam(req, "min_mod_revision"); v > 0 && e.modRevision < v {
			continue
		}
		if v := intParam(req, "max_mod_revision"); v > 0 && e.modRevision > v {
			continue
		}
		if v := intParam(req, "min_create_revision"); v > 0 && e.createRevision < v {
			continue
		}
		if v := intParam(req, "max_create_revision"); v > 0 && e.createRevision > v {
			continue
		}
		filtered = append(filtered, e)
	}
	sortEntries(filtered, intParam(req, "sort_target"), intParam(req, "sort_order"))
	resp := s.reply()
	if len(filtered) > 0 {
		resp["count"] = itoa(int64(len(filtered)))
	}
	if boolParam(req, "count_only") {
		return resp, nil
	}
	if limit := intParam(req, "limit"); limit > 0 && int64(len(filtered)) > limit {
		filtered = filtered[:limit]
		resp["more"] = true
	}
	if len(filtered) > 0 {
		kvs := make([]any, 0, len(filtered))
		for _, e := range filtered {
			kvs = append(kvs, kvJSON(e, boolParam(req, "keys_only")))
		}
		resp["kvs"] = kvs
	}
	return resp, nil
}

func sortEntries(entries []*entry, target, order int64) {
	if order == 0 {
		return
	}
	less := func(a, b *entry) bool {
		switch target {
		case 1:
			return a.version < b.version
		case 2:
			return a.createRevision < b.createRevision
		case 3:
			return a.modRevision < b.modRevision
		case 4:
			return a.value < b.value
		}
		return a.key < b.key
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if order == 2 {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func (s *Server) deleteRange(req map[string]any) (map[string]any, *gwError) {
	key, gerr := bytesParam(req, "key")
	if gerr != nil {
		return nil, gerr
	}
	end, gerr := bytesParam(req, "range_end")
	if gerr != nil {
		return nil, gerr
	}
	matched := s.selectLocked(key, end)
	if len(matched) > 0 {
		s.revision++
	}
	var prev []any
	for _, e := range matched {
		s.deleteKeyLocked(e.key)
		prev = append(prev, kvJSON(e, false))
	}
	resp := s.reply()
	if len(matched) > 0 {
		resp["deleted"] = itoa(int64(len(matched)))
	}
	if boolParam(req, "prev_kv") && len(prev) > 0 {
		resp["prev_kvs"] = prev
	}
	return resp, nil
}

func (s *Server) deleteKeyLocked(key string) {
	e, ok := s.kvs[key]
	if !ok {
		return
	}
	if l, ok := s.leases[e.lease]; ok {
		delete(l.keys, key)
	}
	delete(s.kvs, key)
}

func (s *Server) compaction(req map[string]any) (map[string]any, *gwError) {
	rev := intParam(req, "revision")
	if rev > s.revision {
		return nil, errorf(http.StatusBadRequest, codeOutOfRange, "etcdserver: mvcc: required revision is a future revision")
	}
	if rev <= s.compacted {
		return nil, errorf(http.StatusBadRequest, codeOutOfRange, "etcdserver: mvcc: required revision has been compacted")
	}
	s.compacted = rev
	return s.reply(), nil
}

func (s *Server) expireLeasesLocked() {
	now := s.clock.Now()
	for id, l := range s.leases {
		if !now.Before(l.expires) {
			s.revokeLocked(id)
		}
	}
}

func (s *Server) revokeLocked(id int64) bool {
	l, ok := s.leases[id]
	if !ok {
		return false
	}
	if len(l.keys) > 0 {
		s.revision++
	}
	for key := range l.keys {
		s.deleteKeyLocked(key)
	}
	delete(s.leases, id)
	return true
}

func (s *Server) leaseGrant(req map[string]any) (map[string]any, *gwError) {
	ttl := intParam(req, "TTL")
	if ttl <= 0 {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: lease TTL must be positive")
	}
	id := intParam(req, "ID")
	if id == 0 {
		for {
			id = s.nextLease
			s.nextLease++
			if _, taken := s.leases[id]; !taken {
				break
			}
		}
	} else if _, taken := s.leases[id]; taken {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: lease already exists")
	}
	s.leases[id] = &lease{
		id:      id,
		ttl:     ttl,
		expires: s.clock.Now().Add(time.Duration(ttl) * time.Second),
		keys:    make(map[string]struct{}),
	}
	return s.reply("ID", itoa(id), "TTL", itoa(ttl)), nil
}

func (s *Server) leaseRevoke(req map[string]any) (map[string]any, *gwError) {
	if !s.revokeLocked(intParam(req, "ID")) {
		return nil, errorf(http.StatusNotFound, codeNotFound, "etcdserver: requested lease not found")
	}
	return s.reply(), nil
}

func (s *Server) leaseKeepAlive(req map[string]any) (map[string]any, *gwError) {
	id := intParam(req, "ID")
	msg := s.reply("ID", itoa(id))
	if l, ok := s.leases[id]; ok {
		l.expires = s.clock.Now().Add(time.Duration(l.ttl) * time.Second)
		msg["TTL"] = itoa(l.ttl)
	}
	if !s.keepAliveEnvelope {
		return msg, nil
	}
	return map[string]any{"result": msg}, nil
}

func (s *Server) leaseTimeToLive(req map[string]any) (map[string]any, *gwError) {
	id := intParam(req, "ID")
	l, ok := s.leases[id]
	if !ok {
		return s.reply("ID", itoa(id), "TTL", "-1"), nil
	}
	remaining := int64(l.expires.Sub(s.clock.Now()).Seconds())
	resp := s.reply("ID", itoa(id), "TTL", itoa(remaining), "grantedTTL", itoa(l.ttl))
	if boolParam(req, "keys") && len(l.keys) > 0 {
		keys := make([]string, 0, len(l.keys))
		for key := range l.keys {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		encoded := make([]any, len(keys))
		for i, key := range keys {
			encoded[i] = b64(key)
		}
		resp["keys"] = encoded
	}
	return resp, nil
}

func (s *Server) authEnable(map[string]any) (map[string]any, *gwError) {
	if _, ok := s.users["root"]; !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: root user does not exist")
	}
	s.authEnabled = true
	s.tokens = make(map[string]string)
	return s.reply(), nil
}

func (s *Server) authDisable(map[string]any) (map[string]any, *gwError) {
	s.authEnabled = false
	s.tokens = make(map[string]string)
	return s.reply(), nil
}

func (s *Server) authenticate(req map[string]any) (map[string]any, *gwError) {
	if !s.authEnabled {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: authentication is not enabled")
	}
	name := stringParam(req, "name")
	u, ok := s.users[name]
	if !ok || u.password != stringParam(req, "password") {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: authentication failed, invalid user ID or password")
	}
	s.tokenSeq++
	token := fmt.Sprintf("%s.fake.%d", name, s.tokenSeq)
	s.tokens[token] = name
	return s.reply("token", token), nil
}

func (s *Server) roleAdd(req map[string]any) (map[string]any, *gwError) {
	name := stringParam(req, "name")
	if name == "" {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: role name is empty")
	}
	if _, ok := s.roles[name]; ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role name already exists")
	}
	s.roles[name] = nil
	return s.reply(), nil
}

func (s *Server) roleGet(req map[string]any) (map[string]any, *gwError) {
	perms, ok := s.roles[stringParam(req, "role")]
	if !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role name not found")
	}
	resp := s.reply()
	if len(perms) > 0 {
		out := make([]any, 0, len(perms))
		for _, p := range perms {
			item := map[string]any{"key": b64(p.key)}
			if p.permType != 0 {
				item["permType"] = [...]string{"READ", "WRITE", "READWRITE"}[p.permType]
			}
			if p.rangeEnd != "" {
				item["range_end"] = b64(p.rangeEnd)
			}
			out = append(out, item)
		}
		resp["perm"] = out
	}
	return resp, nil
}

func (s *Server) roleDelete(req map[string]any) (map[string]any, *gwError) {
	role := stringParam(req, "role")
	if _, ok := s.roles[role]; !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role name not found")
	}
	delete(s.roles, role)
	for _, u := range s.users {
		delete(u.roles, role)
	}
	return s.reply(), nil
}

func (s *Server) roleList(map[string]any) (map[string]any, *gwError) {
	resp := s.reply()
	if names := sortedKeys(s.roles); len(names) > 0 {
		resp["roles"] = names
	}
	return resp, nil
}

func (s *Server) roleGrant(req map[string]any) (map[string]any, *gwError) {
	name := stringParam(req, "name")
	if _, ok := s.roles[name]; !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role name not found")
	}
	permReq, ok := req["perm"].(map[string]any)
	if !ok {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: permission not given")
	}
	key, gerr := bytesParam(permReq, "key")
	if gerr != nil {
		return nil, gerr
	}
	end, gerr := bytesParam(permReq, "range_end")
	if gerr != nil {
		return nil, gerr
	}
	p := permission{permType: intParam(permReq, "permType"), key: key, rangeEnd: end}
	if p.permType < 0 || p.permType > 2 {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: invalid permission type")
	}
	perms := s.roles[name]
	for i, existing := range perms {
		if existing.key == key && existing.rangeEnd == end {
			perms[i] = p
			return s.reply(), nil
		}
	}
	s.roles[name] = append(perms, p)
	return s.reply(), nil
}

func (s *Server) roleRevoke(req map[string]any) (map[string]any, *gwError) {
	role := stringParam(req, "role")
	perms, ok := s.roles[role]
	if !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role name not found")
	}
	key, gerr := bytesParam(req, "key")
	if gerr != nil {
		return nil, gerr
	}
	end, gerr := bytesParam(req, "range_end")
	if gerr != nil {
		return nil, gerr
	}
	for i, p := range perms {
		if p.key == key && p.rangeEnd == end {
			s.roles[role] = append(perms[:i:i], perms[i+1:]...)
			return s.reply(), nil
		}
	}
	return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: permission is not granted to the role")
}

func (s *Server) userAdd(req map[string]any) (map[string]any, *gwError) {
	name := stringParam(req, "name")
	if name == "" {
		return nil, errorf(http.StatusBadRequest, codeInvalidArgument, "etcdserver: user name is empty")
	}
	if _, ok := s.users[name]; ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: user name already exists")
	}
	s.users[name] = &user{password: stringParam(req, "password"), roles: make(map[string]struct{})}
	return s.reply(), nil
}

func (s *Server) lookupUser(name string) (*user, *gwError) {
	u, ok := s.users[name]
	if !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: user name not found")
	}
	return u, nil
}

func (s *Server) userGet(req map[string]any) (map[string]any, *gwError) {
	u, gerr := s.lookupUser(stringParam(req, "name"))
	if gerr != nil {
		return nil, gerr
	}
	resp := s.reply()
	if roles := sortedKeys(u.roles); len(roles) > 0 {
		resp["roles"] = roles
	}
	return resp, nil
}

func (s *Server) userDelete(req map[string]any) (map[string]any, *gwError) {
	name := stringParam(req, "name")
	if _, gerr := s.lookupUser(name); gerr != nil {
		return nil, gerr
	}
	if s.authEnabled && name == "root" {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: invalid auth management")
	}
	delete(s.users, name)
	for token, owner := range s.tokens {
		if owner == name {
			delete(s.tokens, token)
		}
	}
	return s.reply(), nil
}

func (s *Server) userChangePassword(req map[string]any) (map[string]any, *gwError) {
	u, gerr := s.lookupUser(stringParam(req, "name"))
	if gerr != nil {
		return nil, gerr
	}
	u.password = stringParam(req, "password")
	return s.reply(), nil
}

func (s *Server) userList(map[string]any) (map[string]any, *gwError) {
	resp := s.reply()
	if names := sortedKeys(s.users); len(names) > 0 {
		resp["users"] = names
	}
	return resp, nil
}

func (s *Server) userGrant(req map[string]any) (map[string]any, *gwError) {
	u, gerr := s.lookupUser(stringParam(req, "user"))
	if gerr != nil {
		return nil, gerr
	}
	role := stringParam(req, "role")
	if _, ok := s.roles[role]; !ok && role != "root" {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role name not found")
	}
	u.roles[role] = struct{}{}
	return s.reply(), nil
}

func (s *Server) userRevoke(req map[string]any) (map[string]any, *gwError) {
	u, gerr := s.lookupUser(stringParam(req, "name"))
	if gerr != nil {
		return nil, gerr
	}
	role := stringParam(req, "role")
	if _, ok := u.roles[role]; !ok {
		return nil, errorf(http.StatusBadRequest, codeFailedPrecondition, "etcdserver: role is not granted to the user")
	}
	delete(u.roles, role)
	return s.reply(), nil
}

func sortedKeys[V any](m map[string]V) []any {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = name
	}
	return out
}
