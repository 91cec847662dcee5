package client

// Body is a decoded gateway response. Numbers are kept as json.Number; keys
// and values named by the operation are already base64-decoded.
type Body map[string]any

// Result is returned by every gateway call.
//
// Body always holds the full decoded response. When the client runs in pretty
// mode the response header is removed from Body and Pretty holds the
// simplified value described on each operation; otherwise Pretty is nil.
type Result struct {
	Body   Body
	Pretty any
}

// Value returns Pretty when set and Body otherwise.
func (r *Result) Value() any {
	if r == nil {
		return nil
	}
	if r.Pretty != nil {
		return r.Pretty
	}
	return r.Body
}

// ResponseHeader is the header block attached to every etcd response.
type ResponseHeader struct {
	ClusterID uint64 `json:"cluster_id,string"`
	MemberID  uint64 `json:"member_id,string"`
	Revision  int64  `json:"revision,string"`
	RaftTerm  uint64 `json:"raft_term,string"`
}

// KeyValue is one decoded key/value entry.
type KeyValue struct {
	Key            string `json:"key"`
	Value          string `json:"value,omitempty"`
	CreateRevision int64  `json:"create_revision,omitempty"`
	ModRevision    int64  `json:"mod_revision,omitempty"`
	Version        int64  `json:"version,omitempty"`
	Lease          int64  `json:"lease,omitempty"`
}

// Permission is one decoded role permission.
type Permission struct {
	PermType PermissionType `json:"permType"`
	Key      string         `json:"key"`
	RangeEnd string         `json:"range_end,omitempty"`
}

// Header returns the response header, if present.
func (b Body) Header() (ResponseHeader, bool) {
	raw, ok := asMap(b["header"])
	if !ok {
		return ResponseHeader{}, false
	}
	return ResponseHeader{
		ClusterID: uint64Of(raw["cluster_id"]),
		MemberID:  uint64Of(raw["member_id"]),
		Revision:  int64Of(raw["revision"]),
		RaftTerm:  uint64Of(raw["raft_term"]),
	}, true
}

// String returns the named member as a string ("" when absent).
func (b Body) String(name string) string { return stringOf(b[name]) }

// Int64 returns the named member as an integer. The gateway renders 64-bit
// integers as strings; both forms are accepted.
func (b Body) Int64(name string) int64 { return int64Of(b[name]) }

// Bool returns the named member as a boolean.
func (b Body) Bool(name string) bool { return boolOf(b[name]) }

// KVs returns the entries of a range response.
func (b Body) KVs() []KeyValue { return keyValues(b["kvs"]) }

// PrevKVs returns the entries removed by a delete-range call.
func (b Body) PrevKVs() []KeyValue { return keyValues(b["prev_kvs"]) }

// PrevKV returns the entry replaced by a put call.
func (b Body) PrevKV() (KeyValue, bool) {
	kvs := keyValues(b["prev_kv"])
	if len(kvs) == 0 {
		return KeyValue{}, false
	}
	return kvs[0], true
}

// Count returns the number of keys in a range.
func (b Body) Count() int64 { return b.Int64("count") }

// More reports whether a limited range has more keys.
func (b Body) More() bool { return b.Bool("more") }

// Deleted returns the number of keys removed by a delete-range call.
func (b Body) Deleted() int64 { return b.Int64("deleted") }

// Token returns the token of an authenticate response.
func (b Body) Token() string { return b.String("token") }

// LeaseID returns the lease ID of a lease response.
func (b Body) LeaseID() int64 { return b.Int64("ID") }

// TTL returns the remaining lease TTL in seconds.
func (b Body) TTL() int64 { return b.Int64("TTL") }

// GrantedTTL returns the TTL the lease was granted with.
func (b Body) GrantedTTL() int64 { return b.Int64("grantedTTL") }

// Keys returns the keys attached to a lease (time-to-live with keys).
func (b Body) Keys() []string { return stringList(b["keys"]) }

// Roles returns the role names of a role-list or user-get response.
func (b Body) Roles() []string { return stringList(b["roles"]) }

// Users returns the user names of a user-list response.
func (b Body) Users() []string { return stringList(b["users"]) }

// Perms returns the permissions of a role-get response.
func (b Body) Perms() []Permission {
	var items []any
	switch raw := b["perm"].(type) {
	case []any:
		items = raw
	case nil:
		return nil
	default:
		items = []any{raw}
	}
	perms := make([]Permission, 0, len(items))
	for _, elem := range items {
		m, ok := asMap(elem)
		if !ok {
			continue
		}
		perms = append(perms, Permission{
			PermType: permissionTypeOf(m["permType"]),
			Key:      stringOf(m["key"]),
			RangeEnd: stringOf(m["range_end"]),
		})
	}
	return perms
}

func keyValues(raw any) []KeyValue {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case nil:
		return nil
	default:
		items = []any{v}
	}
	kvs := make([]KeyValue, 0, len(items))
	for _, elem := range items {
		m, ok := asMap(elem)
		if !ok {
			continue
		}
		kvs = append(kvs, KeyValue{
			Key:            stringOf(m["key"]),
			Value:          stringOf(m["value"]),
			CreateRevision: int64Of(m["create_revision"]),
			ModRevision:    int64Of(m["mod_revision"]),
			Version:        int64Of(m["version"]),
			Lease:          int64Of(m["lease"]),
		})
	}
	return kvs
}

func stringList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		out = append(out, stringOf(elem))
	}
	return out
}
