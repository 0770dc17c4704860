package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordEscalationPass(t *testing.T) {
	p0, ev0, ex0, f0, d0 := EscalationSnapshot()

	RecordEscalationPass(10, 3, 1, 2)
	RecordEscalationPass(5, 0, 0, 5)

	p, ev, ex, f, d := EscalationSnapshot()
	assert.Equal(t, p0+2, p)
	assert.Equal(t, ev0+15, ev)
	assert.Equal(t, ex0+3, ex)
	assert.Equal(t, f0+1, f)
	assert.Equal(t, d0+7, d)
}

func TestIncRateLimitDrop(t *testing.T) {
	before, _ := RateLimitSnapshot()

	IncRateLimitDrop("global")
	IncRateLimitDrop("")
	IncRateLimitDrop("api")

	total, by := RateLimitSnapshot()
	assert.Equal(t, before+3, total)
	assert.GreaterOrEqual(t, by["global"], uint64(2))
	assert.GreaterOrEqual(t, by["api"], uint64(1))
}
