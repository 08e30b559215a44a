package dedup

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryClaim(t *testing.T) {
	t.Run("first claim wins", func(t *testing.T) {
		c := New(time.Second)
		claim := c.TryClaim("fp", "run_1")
		assert.True(t, claim.Claimed)
	})

	t.Run("duplicate inside window loses", func(t *testing.T) {
		c := New(time.Second)
		require.True(t, c.TryClaim("fp", "run_1").Claimed)

		claim := c.TryClaim("fp", "run_2")
		assert.False(t, claim.Claimed)
		assert.Equal(t, "run_1", claim.ExistingRunID)
	})

	t.Run("distinct fingerprints are independent", func(t *testing.T) {
		c := New(time.Second)
		require.True(t, c.TryClaim("fp1", "run_1").Claimed)
		assert.True(t, c.TryClaim("fp2", "run_2").Claimed)
	})

	t.Run("expired claim is swept", func(t *testing.T) {
		c := New(time.Second)
		now := time.Now()
		c.now = func() time.Time { return now }
		require.True(t, c.TryClaim("fp", "run_1").Claimed)

		c.now = func() time.Time { return now.Add(2 * time.Second) }
		claim := c.TryClaim("fp", "run_2")
		assert.True(t, claim.Claimed)
		assert.Equal(t, 1, c.Len())
	})
}

func TestRelease(t *testing.T) {
	t.Run("owner releases", func(t *testing.T) {
		c := New(time.Second)
		require.True(t, c.TryClaim("fp", "run_1").Claimed)
		c.Release("fp", "run_1")
		assert.True(t, c.TryClaim("fp", "run_2").Claimed)
	})

	t.Run("non-owner cannot release", func(t *testing.T) {
		c := New(time.Second)
		require.True(t, c.TryClaim("fp", "run_1").Claimed)
		c.Release("fp", "run_2")

		claim := c.TryClaim("fp", "run_3")
		assert.False(t, claim.Claimed)
		assert.Equal(t, "run_1", claim.ExistingRunID)
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("stable for identical inputs", func(t *testing.T) {
		a := Fingerprint("u1", "slack", "C123", "hello")
		b := Fingerprint("u1", "slack", "C123", "hello")
		assert.Equal(t, a, b)
	})

	t.Run("varies by each field", func(t *testing.T) {
		base := Fingerprint("u1", "slack", "C123", "hello")
		assert.NotEqual(t, base, Fingerprint("u2", "slack", "C123", "hello"))
		assert.NotEqual(t, base, Fingerprint("u1", "discord", "C123", "hello"))
		assert.NotEqual(t, base, Fingerprint("u1", "slack", "C999", "hello"))
		assert.NotEqual(t, base, Fingerprint("u1", "slack", "C123", "goodbye"))
	})

	t.Run("only prompt prefix participates", func(t *testing.T) {
		long := strings.Repeat("a", 300)
		a := Fingerprint("u1", "slack", "C123", long)
		b := Fingerprint("u1", "slack", "C123", long+"tail")
		assert.Equal(t, a, b)
	})
}
