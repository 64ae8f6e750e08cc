package flags

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Known buckets computed with an independent murmur3 implementation. If any of
// these change, every user in every rollout gets reshuffled.
func TestBucket_PinnedVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		userID string
		flag   string
		want   int
	}{
		{"user-1", "export_pdf", 99},
		{"user-2", "export_pdf", 29},
		{"user-42", "calendar_sync", 34},
		{"alice", "new_checkout", 71},
		{"bob", "new_checkout", 62},
		{"u_1", "f", 24},
		{"user-7", "smart_suggestions", 83},
	}

	for _, tt := range tests {
		t.Run(tt.userID+"/"+tt.flag, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Bucket(tt.userID, tt.flag))
		})
	}
}

func TestBucket_RangeAndDeterminism(t *testing.T) {
	t.Parallel()

	for i := range 2_000 {
		userID := fmt.Sprintf("user-%d", i)
		b := Bucket(userID, "checkout")
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 100)
		assert.Equal(t, b, Bucket(userID, "checkout"), "bucket must be stable for %s", userID)
	}
}

func TestBucket_Uniformity(t *testing.T) {
	t.Parallel()

	// Arrange: 10k users over 100 buckets, expect ~100 per bucket.
	const users = 10_000
	counts := make([]int, 100)

	// Act
	for i := range users {
		counts[Bucket(fmt.Sprintf("u-%d", i), "uniformity")]++
	}

	// Assert: loose bounds, this guards against a broken reduction rather than measuring quality.
	for b, c := range counts {
		assert.Greater(t, c, 50, "bucket %d is underpopulated", b)
		assert.Less(t, c, 160, "bucket %d is overpopulated", b)
	}
}

func TestInRollout_Monotonic(t *testing.T) {
	t.Parallel()

	for bucket := range 100 {
		for p1 := 0; p1 <= 100; p1++ {
			if !InRollout(bucket, p1) {
				continue
			}
			for p2 := p1 + 1; p2 <= 100; p2++ {
				assert.True(t, InRollout(bucket, p2), "bucket %d enabled at %d%% but not at %d%%", bucket, p1, p2)
			}
		}
	}
}

func TestInRollout_Boundaries(t *testing.T) {
	t.Parallel()

	for bucket := range 100 {
		assert.False(t, InRollout(bucket, 0))
		assert.True(t, InRollout(bucket, 100))
	}
}
