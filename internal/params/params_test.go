package params

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKey_OrderIndependent(t *testing.T) {
	a := url.Values{"iata_code": {"CDG"}, "limit": {"10"}}
	b := url.Values{"limit": {"10"}, "iata_code": {"CDG"}}

	assert.Equal(t, CacheKey("airports", a), CacheKey("airports", b))
}

func TestCacheKey_DifferentEndpointsDiffer(t *testing.T) {
	v := url.Values{"flight_iata": {"AF447"}}
	assert.NotEqual(t, CacheKey("airports", v), CacheKey("flights", v))
}

func TestCacheKey_EmptyValuesAreDropped(t *testing.T) {
	withEmpty := url.Values{"search": {""}, "limit": {"10"}}
	without := url.Values{"limit": {"10"}}

	assert.Equal(t, CacheKey("airports", without), CacheKey("airports", withEmpty))
}

func TestNormalise_KeepsMultiValueOrder(t *testing.T) {
	v := url.Values{"a": {"z", "y"}}
	out := Normalise(v)
	assert.Equal(t, []string{"z", "y"}, out["a"])
}
