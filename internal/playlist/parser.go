package playlist

import (
	"bufio"
	"encoding/hex"
	"strconv"
	"strings"
)

type lineKind int

const (
	lineBlank lineKind = iota
	lineHeader
	lineStreamInf
	lineInf
	lineKey
	lineMediaSequence
	lineTargetDuration
	lineEndList
	lineTag
	lineComment
	lineURI
)

const (
	tagHeader         = "#EXTM3U"
	tagStreamInf      = "#EXT-X-STREAM-INF:"
	tagInf            = "#EXTINF:"
	tagKey            = "#EXT-X-KEY:"
	tagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE:"
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagEndList        = "#EXT-X-ENDLIST"
)

func classifyLine(line string) lineKind {
	switch {
	case line == "":
		return lineBlank
	case !strings.HasPrefix(line, "#"):
		return lineURI
	case line == tagHeader:
		return lineHeader
	case strings.HasPrefix(line, tagStreamInf):
		return lineStreamInf
	case strings.HasPrefix(line, tagInf):
		return lineInf
	case strings.HasPrefix(line, tagKey):
		return lineKey
	case strings.HasPrefix(line, tagMediaSequence):
		return lineMediaSequence
	case strings.HasPrefix(line, tagTargetDuration):
		return lineTargetDuration
	case strings.HasPrefix(line, tagEndList):
		return lineEndList
	case strings.HasPrefix(line, "#EXT"):
		return lineTag
	default:
		return lineComment
	}
}

// Parse classifies and parses manifest text fetched from url. A manifest
// with any #EXT-X-STREAM-INF line is a master playlist; otherwise one with
// #EXTINF lines is a media playlist. URIs are kept as written.
func Parse(text, url string) (*Playlist, error) {
	pl := &Playlist{URL: url}

	var (
		pendingVariant *Variant
		pendingInf     *Segment
		key            *Key
		sawStreamInf   bool
		sawInf         bool
	)

	sc := bufio.NewScanner(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		switch classifyLine(line) {
		case lineStreamInf:
			sawStreamInf = true
			attrs := parseAttributes(strings.TrimPrefix(line, tagStreamInf))
			v := Variant{Codecs: attrs["CODECS"]}
			v.Bandwidth, _ = strconv.Atoi(attrs["BANDWIDTH"])
			v.Width, v.Height = parseResolution(attrs["RESOLUTION"])
			pendingVariant = &v

		case lineInf:
			sawInf = true
			pendingInf = &Segment{Duration: parseDuration(strings.TrimPrefix(line, tagInf))}

		case lineKey:
			k, err := parseKey(strings.TrimPrefix(line, tagKey))
			if err != nil {
				return nil, &ParseError{URL: url, Reason: err.Error()}
			}
			key = k

		case lineMediaSequence:
			if n, err := strconv.Atoi(strings.TrimPrefix(line, tagMediaSequence)); err == nil {
				pl.MediaSequence = n
			}

		case lineTargetDuration:
			if n, err := strconv.Atoi(strings.TrimPrefix(line, tagTargetDuration)); err == nil {
				pl.TargetDuration = n
			}

		case lineEndList:
			pl.Ended = true

		case lineURI:
			switch {
			case pendingVariant != nil:
				pendingVariant.URI = line
				pl.Variants = append(pl.Variants, *pendingVariant)
				pendingVariant = nil
			case pendingInf != nil:
				pendingInf.URI = line
				pendingInf.Sequence = pl.MediaSequence + len(pl.Segments)
				pendingInf.Key = key
				pl.Segments = append(pl.Segments, *pendingInf)
				pendingInf = nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{URL: url, Reason: err.Error()}
	}

	switch {
	case sawStreamInf:
		if len(pl.Variants) == 0 {
			return nil, &ParseError{URL: url, Reason: "master playlist has no variant URIs"}
		}
		pl.Segments = nil
	case sawInf:
		if len(pl.Segments) == 0 {
			return nil, &ParseError{URL: url, Reason: "media playlist has no segment URIs"}
		}
	default:
		return nil, &ParseError{URL: url, Reason: "no variants or segments found"}
	}
	return pl, nil
}

// parseDuration reads the duration from an #EXTINF value such as "9.009,title".
// Malformed durations become 0.
func parseDuration(s string) float64 {
	d, _, _ := strings.Cut(s, ",")
	f, err := strconv.ParseFloat(strings.TrimSpace(d), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

type unsupportedKeyError string

func (e unsupportedKeyError) Error() string {
	return "unsupported key method " + string(e)
}

// parseKey returns nil for METHOD=NONE, which clears any active key.
func parseKey(s string) (*Key, error) {
	attrs := parseAttributes(s)
	method := strings.ToUpper(attrs["METHOD"])
	switch method {
	case "", "NONE":
		return nil, nil
	case methodAES128:
	default:
		return nil, unsupportedKeyError(method)
	}

	k := &Key{Method: method, URI: attrs["URI"]}
	if k.URI == "" {
		return nil, unsupportedKeyError(method + " without URI")
	}
	if iv := attrs["IV"]; iv != "" {
		iv = strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X")
		b, err := hex.DecodeString(iv)
		if err != nil || len(b) != 16 {
			return nil, unsupportedKeyError(method + " with malformed IV")
		}
		k.IV = b
	}
	return k, nil
}
