package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"pkt.systems/etcdgw/client"
)

func TestParseOutputMode(t *testing.T) {
	cases := map[string]outputMode{
		"":      outputText,
		"text":  outputText,
		"JSON":  outputJSON,
		" yaml": outputYAML,
		"yml":   outputYAML,
	}
	for in, want := range cases {
		got, err := parseOutputMode(in)
		if err != nil {
			t.Fatalf("parseOutputMode(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseOutputMode(%q)=%q want %q", in, got, want)
		}
	}
	if _, err := parseOutputMode("table"); err == nil {
		t.Fatal("expected unknown format to fail")
	}
}

func TestWriteYAMLNumbers(t *testing.T) {
	body := client.Body{
		"count":  json.Number("3"),
		"ratio":  json.Number("0.5"),
		"nested": []any{map[string]any{"rev": json.Number("12")}},
	}
	var buf bytes.Buffer
	if err := writeYAML(&buf, body); err != nil {
		t.Fatalf("writeYAML: %v", err)
	}
	want := "count: 3\nnested:\n  - rev: 12\nratio: 0.5\n"
	if buf.String() != want {
		t.Fatalf("unexpected yaml:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestEmitTextFallsBackToJSON(t *testing.T) {
	cfg := &cliConfig{output: outputText}
	var buf bytes.Buffer
	if err := cfg.emit(&buf, map[string]int{"n": 1}, nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if buf.String() != "{\n  \"n\": 1\n}\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
