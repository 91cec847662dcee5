// Package jsonutil compacts JSON values before they are stored in etcd.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"pkt.systems/jpact"
)

// DefaultMaxValueBytes matches etcd's default request size limit.
const DefaultMaxValueBytes = 1536 * 1024

// CompactWriter streams JSON from r to w without insignificant whitespace.
// maxBytes limits the bytes read from r (<=0 disables the limit).
func CompactWriter(w io.Writer, r io.Reader, maxBytes int64) error {
	return jpact.CompactWriter(w, r, maxBytes)
}

// CompactValue compacts a JSON document held in a string. Documents that are
// already compact are returned unchanged after validation.
func CompactValue(value string, maxBytes int64) (string, error) {
	if maxBytes > 0 && int64(len(value)) > maxBytes {
		return "", fmt.Errorf("json: value exceeds %d bytes", maxBytes)
	}
	if !strings.ContainsAny(value, " \t\r\n") {
		if !json.Valid([]byte(value)) {
			return "", fmt.Errorf("json: invalid input")
		}
		return value, nil
	}
	out, err := jpact.CompactToBuffer(strings.NewReader(value), maxBytes)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}
