package bayes

import (
	"context"
	"fmt"
	"time"
)

// Blacklist excludes words from scoring. Each word is normalized like a
// training token and dropped if too short; blacklisting a word again bumps
// its hit counter. Training still counts blacklisted words.
func (c *Classifier) Blacklist(ctx context.Context, words ...string) (err error) {
	defer observe("blacklist", time.Now(), &err)

	for _, word := range words {
		token, ok := c.tokenizer.Normalize(word)
		if !ok {
			continue
		}
		if _, err := c.store.Increment(ctx, c.blacklist, token, 1); err != nil {
			return fmt.Errorf("blacklist %q: %w", token, err)
		}
		c.debugf("blacklisted %q", token)
	}
	return nil
}

// IsBlacklisted looks word up exactly as given, without normalization.
func (c *Classifier) IsBlacklisted(ctx context.Context, word string) (bool, error) {
	return c.store.Exists(ctx, c.blacklist, word)
}

// BlacklistHits returns how many times word, as given, was blacklisted.
func (c *Classifier) BlacklistHits(ctx context.Context, word string) (int64, error) {
	n, _, err := c.store.Get(ctx, c.blacklist, word)
	return n, err
}

// RemoveFromBlacklist deletes word, as given, from the blacklist and returns
// the number of entries removed.
func (c *Classifier) RemoveFromBlacklist(ctx context.Context, word string) (n int64, err error) {
	defer observe("unblacklist", time.Now(), &err)
	return c.store.Remove(ctx, c.blacklist, word)
}
