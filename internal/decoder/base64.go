package decoder

import (
	"encoding/base64"
	"strings"
)

// decodeBase64 accepts standard or URL-safe base64 with or without trailing
// padding. The band service drops the padding from summary blobs.
func decodeBase64(blob string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(blob), "=")

	raw, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err == nil {
		return raw, nil
	}

	if urlRaw, urlErr := base64.RawURLEncoding.DecodeString(trimmed); urlErr == nil {
		return urlRaw, nil
	}
	return nil, err
}
