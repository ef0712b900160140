// Package params normalises inbound query parameters into the canonical
// form used both for cache-key derivation and for the upstream request
// sent to aviationstack.
package params

import (
	"net/url"
	"sort"
	"strings"
)

// Normalise returns a copy of the query parameters with empty-string
// values dropped, and any parameter left with no values removed. It does
// not sort; CacheKey sorts names and values when it serialises. Multi-value
// parameters keep their values in the order the caller supplied them.
func Normalise(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for name, vs := range values {
		var kept []string
		for _, v := range vs {
			if v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[name] = kept
		}
	}
	return out
}

// CacheKey builds the canonical "{endpoint}:{params-normalised}" cache
// key. Identical parameter sets in different insertion orders produce
// byte-identical keys because names and the value lists within each name
// are both sorted before serialisation.
func CacheKey(endpoint string, values url.Values) string {
	normalised := Normalise(values)

	names := make([]string, 0, len(normalised))
	for name := range normalised {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte(':')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		vs := append([]string(nil), normalised[name]...)
		sort.Strings(vs)
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.Join(vs, ",")))
	}
	return b.String()
}
