package schemas_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedTime is the creation time used by memory record tests.
func fixedTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2025-06-14T08:30:00Z")
	require.NoError(t, err)
	return ts
}
