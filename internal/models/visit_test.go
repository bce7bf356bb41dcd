package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanIDRoundTrip(t *testing.T) {
	id := ScanID("ab12345", 2)
	assert.Equal(t, "ab12345_2", id)

	student, seq, err := ParseScanID(id)
	require.NoError(t, err)
	assert.Equal(t, "ab12345", student)
	assert.Equal(t, 2, seq)

	for _, bad := range []string{"", "ab12345", "ab12345_", "_3", "ab12345_x", "ab12345_0"} {
		_, _, err := ParseScanID(bad)
		assert.Error(t, err, bad)
	}
}

func TestStudentVisitedSet(t *testing.T) {
	s := Student{ID: "ab12345", VisitedOrganizations: []string{"google-pk"}, VisitCount: 1}
	assert.True(t, s.HasVisited("google-pk"))
	assert.False(t, s.HasVisited("meta-pk"))
	assert.True(t, s.Consistent())

	s.VisitCount = 2
	assert.False(t, s.Consistent())
}

func TestQueuedScanDue(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)
	q := QueuedScan{}
	assert.True(t, q.Due(now))
	q.NextAttemptAt = &later
	assert.False(t, q.Due(now))
	assert.True(t, q.Due(later))
	assert.True(t, QueueStatusFailed.Valid())
	assert.False(t, QueueStatus("lost").Valid())
}

func TestStudentIDShape(t *testing.T) {
	for _, id := range []string{"ab12345", "AB1234", " zz99999 "} {
		assert.True(t, ValidStudentID(id), id)
	}
	for _, id := range []string{"", "a12345", "abc1234", "ab123", "ab123456", "ab12-45"} {
		assert.False(t, ValidStudentID(id), id)
	}
	assert.Equal(t, "ab12345", NormalizeStudentID(" AB12345 "))
}
