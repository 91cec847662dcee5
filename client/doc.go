// Package client talks to the JSON gateway that etcd v3 exposes next to its
// gRPC API. Every call is a POST of a JSON object to <server>/<version>/<path>
// and returns the decoded response.
//
// Copyright (C) 2025 Michel Blomgren <https://pkt.systems>
//
// # Quick start
//
//	ctx := context.Background()
//	cli, err := client.New("127.0.0.1:2379", client.WithVersion("v3"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//
//	if _, err := cli.Put(ctx, "/config/mode", "active"); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := cli.GetKeysWithPrefix(ctx, "/config/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, kv := range res.Body.KVs() {
//	    fmt.Printf("%s=%s (rev %d)\n", kv.Key, kv.Value, kv.ModRevision)
//	}
//
// A server without a scheme is reached over plain HTTP. The API version
// defaults to v3alpha (etcd 3.2); use v3beta for 3.3 and v3 for 3.4 and
// later.
//
// # Encoding
//
// Keys, values and range ends are arbitrary bytes carried in Go strings.
// The gateway expects them base64 encoded; the client encodes them on the way
// out and decodes the kvs, prev_kv, prev_kvs, perm and lease keys members on
// the way in, so Result.Body holds plain bytes. Numbers decode as
// json.Number; the typed accessors on Body (KVs, Count, LeaseID, TTL, ...)
// accept both the string and the numeric form etcd uses for 64-bit integers.
//
// # Pretty mode
//
// WithPretty (or SetPretty) strips the response header and fills
// Result.Pretty with a simplified value: Get returns a map of key to value,
// Put and Del the previous value(s), Authenticate the token, RoleList,
// UserList and GetUser a slice of names, and GetRole the permission list.
// Result.Value returns Pretty when set and Body otherwise.
//
// # Authentication
//
// Login authenticates and keeps the token in the client Session, which adds
// the Grpc-Metadata-Token header to every following request. Sessions can be
// shared between clients with WithSession. AuthEnable and AuthDisable drop
// the token after they succeed because the server invalidates it.
//
// # Errors
//
// Transport failures are returned wrapped with the call path. A non-2xx
// response yields *APIError carrying the gateway error document; a body that
// is not a JSON object, or a member that is not valid base64, yields
// *ParseError. Nothing is retried.
//
// # Observability
//
// WithLogger accepts any pslog.Base; events are named client.http.* and carry
// the request correlation id as cid. Each call records the
// etcdgw.client.requests counter and etcdgw.client.request.duration_ms
// histogram through the global OpenTelemetry meter provider and runs in a
// client span. WithTracing additionally instruments the HTTP transport.
package client
