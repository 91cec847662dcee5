// Package etcdgw holds the runtime configuration and telemetry wiring shared by
// the etcdgw command line tool and programs embedding the gateway client.
// The client itself lives in pkt.systems/etcdgw/client; it speaks the JSON
// gateway of an etcd v3 cluster (the grpc-gateway facade) over plain HTTP
// POSTs.
//
// Copyright (C) 2025 Michel Blomgren <https://pkt.systems>
//
// # Configuration
//
// Config mirrors the CLI flags. Validate normalizes the server address, fills
// the API version (v3alpha) and timeout defaults and expands "~" and "$VARS"
// in file paths. NewClient turns a Config into a ready client:
//
//	cfg := etcdgw.Config{
//	    Server:     "https://etcd.internal:2379",
//	    APIVersion: "v3",
//	    BundlePath: "~/.etcdgw/client.pem",
//	}
//	cli, err := etcdgw.NewClient(cfg, logger)
//	if err != nil { log.Fatal(err) }
//	defer cli.Close()
//
// The CLI reads $HOME/.etcdgw/config.yaml (or $ETCDGW_CONFIG_DIR) and
// ETCDGW_* environment variables on top of the flags.
//
// # Telemetry
//
// SetupTelemetry installs OpenTelemetry providers. An OTLP endpoint enables
// span export (host:port means insecure gRPC; grpc://, grpcs://, http:// and
// https:// URLs pick the protocol explicitly). A metrics listen address serves
// Prometheus metrics on /metrics, including the client request counter and
// duration histogram. Call Shutdown to flush exporters before exit.
//
// # Related packages
//
//   - client: the gateway client (KV, leases, auth, roles, users).
//   - session: encrypted on-disk bearer-token session used by `etcdgw auth login`.
//   - snapshot: export and restore of key ranges to disk, S3, AWS S3 or Azure Blob.
//   - tlsutil: PEM bundles for HTTPS gateways and mutual TLS.
package etcdgw
