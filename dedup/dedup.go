// Package dedup suppresses duplicate run submissions inside a short window.
// Retries from chat frontends and double-delivered webhooks land on the run
// already in flight instead of spawning a second one.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/alphadose/haxmap"
)

// DefaultWindow is how long a claimed fingerprint suppresses duplicates.
const DefaultWindow = 5 * time.Second

type entry struct {
	runID     string
	createdAt time.Time
}

// Claim is the outcome of TryClaim.
type Claim struct {
	// Claimed is true when the fingerprint was free and now belongs to the
	// caller's run.
	Claimed bool
	// ExistingRunID is the run already holding the fingerprint when Claimed
	// is false.
	ExistingRunID string
}

// Cache tracks in-flight fingerprints. Safe for concurrent use.
type Cache struct {
	entries *haxmap.Map[string, entry]
	window  time.Duration
	now     func() time.Time
}

// New builds a cache with the given suppression window. A zero or negative
// window falls back to DefaultWindow.
func New(window time.Duration) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		entries: haxmap.New[string, entry](),
		window:  window,
		now:     time.Now,
	}
}

// TryClaim atomically claims a fingerprint for runID. When the fingerprint is
// already held by a live claim, the result carries the owning run's ID.
// Expired claims are swept before claiming, so the cache never needs a
// background janitor.
func (c *Cache) TryClaim(fingerprint, runID string) Claim {
	c.sweep()

	won := entry{runID: runID, createdAt: c.now()}
	actual, loaded := c.entries.GetOrSet(fingerprint, won)
	if loaded && actual.runID != runID {
		if c.now().Sub(actual.createdAt) < c.window {
			return Claim{ExistingRunID: actual.runID}
		}
		// The holder expired between the sweep and the lookup.
		c.entries.Set(fingerprint, won)
	}
	return Claim{Claimed: true}
}

// Release frees a fingerprint once its run reaches a terminal state, but only
// if runID still holds it.
func (c *Cache) Release(fingerprint, runID string) {
	if e, ok := c.entries.Get(fingerprint); ok && e.runID == runID {
		c.entries.Del(fingerprint)
	}
}

// Len reports the number of live claims, counting expired ones not yet swept.
func (c *Cache) Len() int {
	return int(c.entries.Len())
}

func (c *Cache) sweep() {
	cutoff := c.now().Add(-c.window)
	var stale []string
	c.entries.ForEach(func(fp string, e entry) bool {
		if e.createdAt.Before(cutoff) {
			stale = append(stale, fp)
		}
		return true
	})
	for _, fp := range stale {
		c.entries.Del(fp)
	}
}

// Fingerprint derives the dedup key for a submission. Only the first 256
// characters of the prompt participate, so trailing noise in long prompts does
// not defeat suppression.
func Fingerprint(requesterID, provider, replyTarget, prompt string) string {
	const promptPrefix = 256
	if len(prompt) > promptPrefix {
		prompt = prompt[:promptPrefix]
	}

	h := sha256.New()
	h.Write([]byte(requesterID))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(replyTarget))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
