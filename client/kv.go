package client

import (
	"context"
	"strings"
)

// SortOrder orders range results.
type SortOrder int

// Sort orders understood by kv/range.
const (
	SortNone    SortOrder = 0
	SortAscend  SortOrder = 1
	SortDescend SortOrder = 2
)

// SortTarget selects the field range results are sorted by.
type SortTarget int

// Sort targets understood by kv/range.
const (
	SortByKey     SortTarget = 0
	SortByVersion SortTarget = 1
	SortByCreate  SortTarget = 2
	SortByMod     SortTarget = 3
	SortByValue   SortTarget = 4
)

// PutOption sets an optional kv/put parameter.
type PutOption func(Params)

// GetOption sets an optional kv/range parameter.
type GetOption func(Params)

// DeleteOption sets an optional kv/deleterange parameter.
type DeleteOption func(Params)

// WithLease attaches the key to lease id.
func WithLease(id int64) PutOption {
	return func(p Params) { p["lease"] = id }
}

// WithPutPrevKV returns the replaced entry in prev_kv.
func WithPutPrevKV() PutOption {
	return func(p Params) { p["prev_kv"] = true }
}

// WithIgnoreValue keeps the current value and only updates the lease.
func WithIgnoreValue() PutOption {
	return func(p Params) { p["ignore_value"] = true }
}

// WithIgnoreLease keeps the current lease.
func WithIgnoreLease() PutOption {
	return func(p Params) { p["ignore_lease"] = true }
}

// WithPutParam sets an arbitrary kv/put parameter. String values are base64
// encoded like every other top-level string.
func WithPutParam(name string, value any) PutOption {
	return func(p Params) { p[name] = value }
}

// WithRangeEnd selects the half-open range [key, end). "\x00" means every key
// greater than or equal to key.
func WithRangeEnd(end string) GetOption {
	return func(p Params) { p["range_end"] = end }
}

// WithLimit caps the number of returned keys.
func WithLimit(n int64) GetOption {
	return func(p Params) { p["limit"] = n }
}

// WithRevision reads the keyspace as of rev.
func WithRevision(rev int64) GetOption {
	return func(p Params) { p["revision"] = rev }
}

// WithSort orders the result.
func WithSort(target SortTarget, order SortOrder) GetOption {
	return func(p Params) {
		p["sort_target"] = int(target)
		p["sort_order"] = int(order)
	}
}

// WithSerializable serves the read from the local member.
func WithSerializable() GetOption {
	return func(p Params) { p["serializable"] = true }
}

// WithKeysOnly omits values.
func WithKeysOnly() GetOption {
	return func(p Params) { p["keys_only"] = true }
}

// WithCountOnly returns only the number of keys in the range.
func WithCountOnly() GetOption {
	return func(p Params) { p["count_only"] = true }
}

// WithMinModRevision filters out keys modified before rev.
func WithMinModRevision(rev int64) GetOption {
	return func(p Params) { p["min_mod_revision"] = rev }
}

// WithMaxModRevision filters out keys modified after rev.
func WithMaxModRevision(rev int64) GetOption {
	return func(p Params) { p["max_mod_revision"] = rev }
}

// WithMinCreateRevision filters out keys created before rev.
func WithMinCreateRevision(rev int64) GetOption {
	return func(p Params) { p["min_create_revision"] = rev }
}

// WithMaxCreateRevision filters out keys created after rev.
func WithMaxCreateRevision(rev int64) GetOption {
	return func(p Params) { p["max_create_revision"] = rev }
}

// WithGetParam sets an arbitrary kv/range parameter.
func WithGetParam(name string, value any) GetOption {
	return func(p Params) { p[name] = value }
}

// WithDeleteRangeEnd deletes the half-open range [key, end).
func WithDeleteRangeEnd(end string) DeleteOption {
	return func(p Params) { p["range_end"] = end }
}

// WithDeletePrevKV returns the deleted entries in prev_kvs.
func WithDeletePrevKV() DeleteOption {
	return func(p Params) { p["prev_kv"] = true }
}

// WithDeleteParam sets an arbitrary kv/deleterange parameter.
func WithDeleteParam(name string, value any) DeleteOption {
	return func(p Params) { p[name] = value }
}

func collect[T ~func(Params)](opts []T) Params {
	p := Params{}
	for _, opt := range opts {
		if fn := (func(Params))(opt); fn != nil {
			fn(p)
		}
	}
	return p
}

// Put stores value under key. Pretty result: the previous value (string)
// when WithPutPrevKV was given and the key existed.
func (c *Client) Put(ctx context.Context, key, value string, opts ...PutOption) (*Result, error) {
	params := encodeParams(Params{"key": key, "value": value})
	body, err := c.request(ctx, PathPut, params, encodeParams(collect(opts)))
	if err != nil {
		return nil, err
	}
	return c.kvResult(PathPut, body, "prev_kv")
}

// Get reads key, or the range [key, range_end) when WithRangeEnd is given.
// Pretty result: map[string]string of key to value. With WithCountOnly there
// is no pretty result; Value returns the body holding count.
func (c *Client) Get(ctx context.Context, key string, opts ...GetOption) (*Result, error) {
	params := encodeParams(Params{"key": key})
	extra := collect(opts)
	countOnly, _ := extra["count_only"].(bool)
	body, err := c.request(ctx, PathRange, params, encodeParams(extra))
	if err != nil {
		return nil, err
	}
	res, err := c.kvResult(PathRange, body, "kvs")
	if err != nil {
		return nil, err
	}
	if countOnly {
		res.Pretty = nil
	}
	return res, nil
}

// GetAllKeys reads the whole keyspace.
func (c *Client) GetAllKeys(ctx context.Context) (*Result, error) {
	return c.Get(ctx, "\x00", WithRangeEnd("\x00"))
}

// GetKeysWithPrefix reads every key starting with prefix. Surrounding
// whitespace is trimmed; an empty prefix returns an empty result without
// contacting the gateway.
func (c *Client) GetKeysWithPrefix(ctx context.Context, prefix string, opts ...GetOption) (*Result, error) {
	prefix = strings.Trim(prefix, " \t\n\r\x00\x0b")
	if prefix == "" {
		res := &Result{Body: Body{}}
		if c.Pretty() {
			res.Pretty = map[string]string{}
		}
		return res, nil
	}
	opts = append(opts, WithRangeEnd(PrefixRangeEnd(prefix)))
	return c.Get(ctx, prefix, opts...)
}

// PrefixRangeEnd returns the range end covering every key that starts with
// prefix: prefix with its last byte incremented.
func PrefixRangeEnd(prefix string) string {
	if prefix == "" {
		return "\x00"
	}
	end := []byte(prefix)
	end[len(end)-1]++
	return string(end)
}

// Del removes key, or the range [key, range_end) when WithDeleteRangeEnd is
// given. Pretty result: map[string]string of the deleted entries when
// WithDeletePrevKV was given.
func (c *Client) Del(ctx context.Context, key string, opts ...DeleteOption) (*Result, error) {
	params := encodeParams(Params{"key": key})
	body, err := c.request(ctx, PathDeleteRange, params, encodeParams(collect(opts)))
	if err != nil {
		return nil, err
	}
	return c.kvResult(PathDeleteRange, body, "prev_kvs")
}

// Compaction discards history older than revision. physical waits until the
// compaction is applied to the backend.
func (c *Client) Compaction(ctx context.Context, revision int64, physical bool) (*Result, error) {
	body, err := c.request(ctx, PathCompaction, Params{"revision": revision, "physical": physical}, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Body: body}, nil
}

func (c *Client) kvResult(path string, body Body, name string) (*Result, error) {
	body, err := decodeBodyForFields(path, body, name, "key", "value")
	if err != nil {
		return nil, err
	}
	res := &Result{Body: body}
	if !c.Pretty() {
		return res, nil
	}
	field, ok, err := fieldOf(path, body, name)
	if err != nil {
		return nil, err
	}
	if ok {
		res.Pretty = convertFields(field)
	} else if name != "prev_kv" {
		res.Pretty = map[string]string{}
	}
	return res, nil
}
