package playlist

import (
	"strconv"
	"strings"
)

// parseAttributes splits an attribute list such as
// `BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720`
// into upper-cased keys and unquoted values. Commas inside quotes do not
// split.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	var (
		key, val strings.Builder
		inKey    = true
		inQuote  bool
	)
	flush := func() {
		k := strings.ToUpper(strings.TrimSpace(key.String()))
		if k != "" {
			attrs[k] = strings.TrimSpace(val.String())
		}
		key.Reset()
		val.Reset()
		inKey = true
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			flush()
		case r == '=' && inKey && !inQuote:
			inKey = false
		case inKey:
			key.WriteRune(r)
		default:
			val.WriteRune(r)
		}
	}
	flush()
	return attrs
}

// parseResolution parses "1920x1080". It returns zeros for anything else.
func parseResolution(s string) (width, height int) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0
	}
	wi, err1 := strconv.Atoi(strings.TrimSpace(w))
	hi, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return 0, 0
	}
	return wi, hi
}
