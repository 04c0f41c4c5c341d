package httpcache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every Redis key written by this package.
const KeyPrefix = "transit:http"

// secretParams never become part of a key.
var secretParams = map[string]bool{
	"key":     true,
	"api_key": true,
}

// Key identifies a stored upstream response.
type Key struct {
	// Upstream names the API; the OBA client uses "oba"
	Upstream string

	// Endpoint is the request path
	Endpoint string

	// QueryParams are the request query parameters; credentials are dropped
	QueryParams url.Values
}

// String generates a deterministic key.
// Format: transit:http:upstream:endpoint:param1=val1:param2=val2
//
// Example:
//
//	transit:http:oba:api/where/routes-for-agency/1.json
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if k.Upstream != "" {
		parts = append(parts, k.Upstream)
	}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if secretParams[strings.ToLower(key)] {
				continue
			}
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
