package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
	"pkt.systems/etcdgw/client"
)

type outputMode string

const (
	outputText outputMode = "text"
	outputJSON outputMode = "json"
	outputYAML outputMode = "yaml"
)

func parseOutputMode(raw string) (outputMode, error) {
	switch mode := outputMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "", outputText:
		return outputText, nil
	case outputJSON, outputYAML:
		return mode, nil
	case "yml":
		return outputYAML, nil
	default:
		return "", fmt.Errorf("invalid output format %q (text|json|yaml)", raw)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(yamlValue(v)); err != nil {
		return err
	}
	return enc.Close()
}

// yamlValue rewrites json.Number leaves so they are emitted as YAML numbers
// rather than quoted strings.
func yamlValue(v any) any {
	switch val := v.(type) {
	case client.Body:
		return yamlValue(map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = yamlValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = yamlValue(elem)
		}
		return out
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// emit writes v in the configured structured format, or calls text for the
// text format.
func (c *cliConfig) emit(out io.Writer, v any, text func(io.Writer) error) error {
	switch c.output {
	case outputJSON:
		return writeJSON(out, v)
	case outputYAML:
		return writeYAML(out, v)
	default:
		if text == nil {
			return writeJSON(out, v)
		}
		return text(out)
	}
}

// emitResult prints a gateway result. Structured formats print Result.Value;
// text prints the pretty value (or body) through text when supplied.
func (c *cliConfig) emitResult(out io.Writer, res *client.Result, text func(io.Writer) error) error {
	return c.emit(out, res.Value(), text)
}

func writeKVText(out io.Writer, kvs []client.KeyValue, keysOnly bool) error {
	for _, kv := range kvs {
		if keysOnly {
			if _, err := fmt.Fprintln(out, kv.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, "%s\n%s\n", kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func headerRevision(res *client.Result) int64 {
	if res == nil {
		return 0
	}
	hdr, ok := res.Body.Header()
	if !ok {
		return 0
	}
	return hdr.Revision
}
