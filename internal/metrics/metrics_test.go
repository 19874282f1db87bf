package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveUpsert(t *testing.T) {
	before := testutil.ToFloat64(UpsertRows.WithLabelValues("members", "failed"))
	ObserveUpsert("members", 3, 1, 2)
	assert.Equal(t, before+2, testutil.ToFloat64(UpsertRows.WithLabelValues("members", "failed")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(UpsertRows.WithLabelValues("members", "inserted")), 3.0)
}
