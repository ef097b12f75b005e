// Package bayes is an incremental naive bayes text classifier whose counts
// live in a store.CountingStore. Any number of Classifier values, in any
// number of processes, may share one store.
package bayes

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hickeroar/storebayes/metrics"
	"github.com/hickeroar/storebayes/store"
)

const (
	// DefaultNamespace prefixes the store collections when none is configured.
	DefaultNamespace = "nbc-ns"
	// Delimiter joins a token and a category into a per-category counter key.
	Delimiter = "_--%%--_"
	// GlobalCountKey holds the total of all word increments in the words collection.
	GlobalCountKey = "--count--"
	// DefaultLimit is used by Classify when limit is not positive.
	DefaultLimit = 10
	// DefaultDebugLines caps the retained trace when Config.DebugLines is unset.
	DefaultDebugLines = 1000
)

var (
	// ErrConfiguration is returned when a classifier is built without a store.
	ErrConfiguration = store.ErrConfiguration
	// ErrInvalidCategory is returned for empty categories or ones containing Delimiter.
	ErrInvalidCategory = errors.New("invalid category")
)

// Config configures a Classifier. The zero value is usable.
type Config struct {
	// Namespace isolates one classifier's counters from another's in a shared store.
	Namespace string
	// Debug records human readable trace lines, see DebugData.
	Debug bool
	// DebugLines is how many of the newest trace lines are kept.
	DebugLines int
	Tokenizer  Tokenizer
	Logger     *slog.Logger
}

// Classifier trains and scores text against counts kept in a CountingStore.
// It holds no counts itself and is safe for concurrent use.
type Classifier struct {
	store     store.CountingStore
	tokenizer Tokenizer
	logger    *slog.Logger
	namespace string

	words     string
	sets      string
	blacklist string

	debug      bool
	debugLines int
	traceMu    sync.Mutex
	trace      []string
}

// TokenOutcome reports what untraining did with one token occurrence.
type TokenOutcome struct {
	Token     string `json:"token"`
	Detrained bool   `json:"detrained"`
	Removed   int64  `json:"removed"`
}

// Result is one ranked category.
type Result struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Info summarizes the trained state.
type Info struct {
	Namespace       string           `json:"namespace"`
	Categories      map[string]int64 `json:"categories"`
	GlobalWordCount int64            `json:"globalWordCount"`
}

// New returns a classifier backed by s.
func New(s store.CountingStore, cfg Config) (*Classifier, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: counting store is required", ErrConfiguration)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debugLines := cfg.DebugLines
	if debugLines <= 0 {
		debugLines = DefaultDebugLines
	}

	return &Classifier{
		store:      s,
		tokenizer:  cfg.Tokenizer,
		logger:     logger.With("component", "classifier", "namespace", namespace),
		namespace:  namespace,
		words:      namespace + "-nbc-words",
		sets:       namespace + "-nbc-sets",
		blacklist:  namespace + "-nbc-blacklists",
		debug:      cfg.Debug,
		debugLines: debugLines,
	}, nil
}

// Namespace returns the configured namespace.
func (c *Classifier) Namespace() string {
	return c.namespace
}

func setKey(word, category string) string {
	return word + Delimiter + category
}

func validCategory(category string) error {
	if category == "" || strings.Contains(category, Delimiter) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return nil
}

func observe(op string, start time.Time, err *error) {
	metrics.ClassifierOpsTotal.WithLabelValues(op, metrics.Status(*err)).Inc()
	metrics.ClassifierOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func reserved(token string) bool {
	return token == GlobalCountKey || strings.Contains(token, Delimiter)
}

// tokens normalizes text and drops words that would collide with reserved
// keys. Training paths also decode HTML entities after normalization.
func (c *Classifier) tokens(op, text string, decode bool) []string {
	tokens := c.tokenizer.Tokens(text)
	kept := tokens[:0]
	for _, token := range tokens {
		if decode {
			token = html.UnescapeString(token)
		}
		if token == "" || reserved(token) {
			continue
		}
		kept = append(kept, token)
	}
	metrics.TokensProcessed.WithLabelValues(op).Add(float64(len(kept)))
	return kept
}

func (c *Classifier) trainingTokens(op, text string) []string {
	return c.tokens(op, text, true)
}

// deltas are the four counter moves for one token: its global count, the
// overall word total, its count in the category and the category total.
func (c *Classifier) deltas(word, category string, by int64) []store.Delta {
	return []store.Delta{
		{Collection: c.words, Key: word, By: by},
		{Collection: c.words, Key: GlobalCountKey, By: by},
		{Collection: c.words, Key: setKey(word, category), By: by},
		{Collection: c.sets, Key: category, By: by},
	}
}

// Train adds one occurrence of every token in text to category. Repeated
// tokens count once per occurrence, so training the same text twice doubles
// its counts.
func (c *Classifier) Train(ctx context.Context, text, category string) (err error) {
	defer observe("train", time.Now(), &err)

	if err := validCategory(category); err != nil {
		return err
	}

	tokens := c.trainingTokens("train", text)
	deltas := make([]store.Delta, 0, 4*len(tokens))
	for _, token := range tokens {
		deltas = append(deltas, c.deltas(token, category, 1)...)
	}

	if err := store.ApplyDeltas(ctx, c.store, deltas); err != nil {
		return fmt.Errorf("train %q: %w", category, err)
	}
	c.logger.Debug("trained", "category", category, "tokens", len(tokens))
	return nil
}

// DeTrain removes one occurrence of every token in text from category. A
// token is only untrained when all four of its counters exist; the outcomes
// report each occurrence in input order. On a store fault the outcomes
// processed so far are returned with the error.
func (c *Classifier) DeTrain(ctx context.Context, text, category string) (outcomes []TokenOutcome, err error) {
	defer observe("detrain", time.Now(), &err)
	return c.detrain(ctx, "detrain", text, category, false)
}

// DeTrainAll removes each token's whole count in category, subtracting the
// same amount from the token's global count, the word total and the category
// total. Other categories keep their counts for the token.
func (c *Classifier) DeTrainAll(ctx context.Context, text, category string) (outcomes []TokenOutcome, err error) {
	defer observe("detrain_all", time.Now(), &err)
	return c.detrain(ctx, "detrain_all", text, category, true)
}

func (c *Classifier) detrain(ctx context.Context, op, text, category string, all bool) ([]TokenOutcome, error) {
	if err := validCategory(category); err != nil {
		return nil, err
	}

	tokens := c.trainingTokens(op, text)
	outcomes := make([]TokenOutcome, 0, len(tokens))
	for _, token := range tokens {
		inSet, ok, err := c.detrainable(ctx, token, category)
		if err != nil {
			return outcomes, fmt.Errorf("%s %q: %w", op, category, err)
		}
		if !ok {
			c.debugf("%s: %q not trained in %q, skipped", op, token, category)
			outcomes = append(outcomes, TokenOutcome{Token: token})
			continue
		}

		by := int64(1)
		if all {
			by = inSet
		}
		if err := store.ApplyDeltas(ctx, c.store, c.deltas(token, category, -by)); err != nil {
			return outcomes, fmt.Errorf("%s %q: %w", op, category, err)
		}
		outcomes = append(outcomes, TokenOutcome{Token: token, Detrained: true, Removed: by})
	}

	c.logger.Debug("detrained", "operation", op, "category", category, "tokens", len(tokens))
	return outcomes, nil
}

// detrainable checks that the token, the word total, the token's category
// counter and the category total all exist, and returns the category counter.
func (c *Classifier) detrainable(ctx context.Context, token, category string) (int64, bool, error) {
	key := setKey(token, category)
	counts, err := c.store.MultiGet(ctx, c.words, []string{token, GlobalCountKey, key})
	if err != nil {
		return 0, false, err
	}
	if len(counts) != 3 {
		return 0, false, nil
	}

	ok, err := c.store.Exists(ctx, c.sets, category)
	if err != nil || !ok {
		return 0, false, err
	}
	return counts[key], true, nil
}

// Flush deletes all training data in the namespace. The blacklist is kept.
func (c *Classifier) Flush(ctx context.Context) (err error) {
	defer observe("flush", time.Now(), &err)

	if err := c.store.Drop(ctx, c.words, c.sets); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	c.logger.Info("flushed training data")
	return nil
}

// Categories lists every category the store knows, including ones whose
// total has been untrained to zero.
func (c *Classifier) Categories(ctx context.Context) ([]string, error) {
	return c.store.Keys(ctx, c.sets)
}

// CategoryCount returns the number of known categories.
func (c *Classifier) CategoryCount(ctx context.Context) (int64, error) {
	return c.store.Len(ctx, c.sets)
}

// SetWordCount returns the total token count of each category. Unknown
// categories report zero.
func (c *Classifier) SetWordCount(ctx context.Context, categories ...string) (map[string]int64, error) {
	return c.countsOf(ctx, c.sets, categories)
}

// WordCount returns the global count of each word as given. Unknown words
// report zero.
func (c *Classifier) WordCount(ctx context.Context, words ...string) (map[string]int64, error) {
	return c.countsOf(ctx, c.words, words)
}

// GlobalWordCount returns the total of all word increments.
func (c *Classifier) GlobalWordCount(ctx context.Context) (int64, error) {
	n, _, err := c.store.Get(ctx, c.words, GlobalCountKey)
	return n, err
}

func (c *Classifier) countsOf(ctx context.Context, collection string, keys []string) (map[string]int64, error) {
	found, err := c.store.MultiGet(ctx, collection, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		out[key] = found[key]
	}
	return out, nil
}

// Info returns every category with its total and the global word count.
func (c *Classifier) Info(ctx context.Context) (Info, error) {
	categories, err := c.Categories(ctx)
	if err != nil {
		return Info{}, err
	}
	totals, err := c.SetWordCount(ctx, categories...)
	if err != nil {
		return Info{}, err
	}
	global, err := c.GlobalWordCount(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{Namespace: c.namespace, Categories: totals, GlobalWordCount: global}, nil
}

func (c *Classifier) debugf(format string, args ...any) {
	if !c.debug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Debug(msg)

	c.traceMu.Lock()
	c.trace = append(c.trace, msg)
	if over := len(c.trace) - c.debugLines; over > 0 {
		c.trace = c.trace[over:]
	}
	c.traceMu.Unlock()
}

// DebugData returns the retained trace lines, oldest first. It is empty
// unless the classifier was configured with Debug.
func (c *Classifier) DebugData() []string {
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	out := make([]string, len(c.trace))
	copy(out, c.trace)
	return out
}

// DrainDebugData returns the retained trace lines and clears them.
func (c *Classifier) DrainDebugData() []string {
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	out := c.trace
	c.trace = nil
	if out == nil {
		out = []string{}
	}
	return out
}
