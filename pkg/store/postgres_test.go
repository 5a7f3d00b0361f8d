package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNullStringEmptyIsInvalid(t *testing.T) {
	ns := nullString("")
	assert.False(t, ns.Valid)

	ns = nullString("abc")
	assert.True(t, ns.Valid)
	assert.Equal(t, "abc", ns.String)
}

func TestNullTimeZeroIsInvalid(t *testing.T) {
	nt := nullTime(time.Time{})
	assert.False(t, nt.Valid)

	now := time.Now()
	nt = nullTime(now)
	assert.True(t, nt.Valid)
	assert.Equal(t, now, nt.Time)
}

func TestPqStringArrayNilBecomesEmptySlice(t *testing.T) {
	got := pqStringArray(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
