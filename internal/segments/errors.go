package segments

import (
	"errors"
	"fmt"
)

// InsufficientSegmentsError reports that fewer segments than the configured
// ratio were downloaded.
type InsufficientSegmentsError struct {
	Succeeded int
	Total     int
	Required  float64
}

func (e *InsufficientSegmentsError) Error() string {
	return fmt.Sprintf("only %d of %d segments downloaded, need %.0f%%", e.Succeeded, e.Total, e.Required*100)
}

var (
	errEmptyPayload = errors.New("empty segment payload")
	errHTMLPayload  = errors.New("segment payload is an HTML page")
	errBadKey       = errors.New("invalid AES-128 key")
	errBadPadding   = errors.New("invalid PKCS#7 padding")
	errUnaligned    = errors.New("encrypted payload not block aligned")
)
