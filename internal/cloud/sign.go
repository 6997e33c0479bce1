package cloud

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"golang.org/x/exp/slices"
)

// unsignedParams never take part in the signature.
var unsignedParams = map[string]bool{
	"file":          true,
	"api_key":       true,
	"cloud_name":    true,
	"resource_type": true,
	"signature":     true,
}

// Sign computes the request signature: non-empty parameters sorted by
// name, joined as k=v with "&", the secret appended, SHA-1 in hex.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || unsignedParams[k] {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
