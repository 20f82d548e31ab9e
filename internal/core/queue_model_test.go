package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueStatus_Allows(t *testing.T) {
	all := []QueueStatus{StatusPending, StatusMappingRequired, StatusReady, StatusManualReview, StatusIssued, StatusError}

	want := map[QueueOperation][]QueueStatus{
		OpResolveMapping: {StatusPending, StatusMappingRequired, StatusReady, StatusManualReview, StatusError},
		OpUnlink:         {StatusMappingRequired, StatusReady, StatusManualReview, StatusError},
		OpAutoAllocate:   {StatusReady, StatusManualReview, StatusError},
		OpManualIssue:    {StatusReady, StatusManualReview, StatusError},
	}

	for op, allowed := range want {
		for _, s := range all {
			assert.Equal(t, contains(allowed, s), s.Allows(op), "%s from %s", op, s)
		}
	}
}

func TestQueueStatus_IssuedIsTerminal(t *testing.T) {
	for _, op := range []QueueOperation{OpResolveMapping, OpUnlink, OpAutoAllocate, OpManualIssue} {
		assert.False(t, StatusIssued.Allows(op), op)
	}
}

func TestQueueStatus_Valid(t *testing.T) {
	assert.True(t, StatusManualReview.Valid())
	assert.False(t, QueueStatus("DONE").Valid())
	assert.False(t, QueueStatus("").Valid())
}

func contains(list []QueueStatus, s QueueStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
