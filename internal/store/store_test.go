package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These collections and the ledger's fixed document id are part of the
// gateway's persisted state layout; a rename here is a breaking change
// for any replica sharing the same database.
func TestCollectionNamesAreStable(t *testing.T) {
	assert.Equal(t, "gateway_cache", cacheCollectionName)
	assert.Equal(t, "aviationstack_api_calls", quotaCollectionName)
	assert.Equal(t, "flight_history", historyCollectionName)
	assert.Equal(t, "aviationstack_api_calls", QuotaDocID)
}
