package fetch

import (
	"fmt"
	"maps"
	"strings"
)

// ParseHeaderList parses a comma separated header list such as
// "Referer: https://site.example/, Origin: https://site.example".
// Entries without a colon or with an empty name are skipped. Values cannot
// contain commas.
func ParseHeaderList(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, err := ParseHeader(pair)
		if err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// ParseHeader parses a single "Name: Value" header.
func ParseHeader(s string) (name, value string, err error) {
	k, v, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("header %q: missing colon", strings.TrimSpace(s))
	}
	k = strings.TrimSpace(k)
	if k == "" {
		return "", "", fmt.Errorf("header %q: empty name", strings.TrimSpace(s))
	}
	return k, strings.TrimSpace(v), nil
}

// Merge returns a new map holding base overlaid with each of overrides in
// order. Nil maps are ignored.
func Merge(base map[string]string, overrides ...map[string]string) map[string]string {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string)
	}
	for _, o := range overrides {
		maps.Copy(out, o)
	}
	return out
}
