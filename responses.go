package main

import "github.com/hickeroar/storebayes/bayes"

// StandardClassifierResponse is a standard response from the api displaying the list of categories and success bool
type StandardClassifierResponse struct {
	Success    bool
	Categories []string `json:",omitempty"`
}

// TrainingClassifierResponse is returned by the train, untrain and flush
// endpoints. Tokens is only set when untraining.
type TrainingClassifierResponse struct {
	StandardClassifierResponse
	Tokens []bayes.TokenOutcome `json:",omitempty"`
}

// NewTrainingClassifierResponse assembles a TrainingClassifierResponse.
func NewTrainingClassifierResponse(categories []string, outcomes []bayes.TokenOutcome) *TrainingClassifierResponse {
	if categories == nil {
		categories = []string{}
	}
	return &TrainingClassifierResponse{
		StandardClassifierResponse: StandardClassifierResponse{Success: true, Categories: categories},
		Tokens:                     outcomes,
	}
}

// InfoClassifierResponse reports each category's total token count.
type InfoClassifierResponse struct {
	Namespace       string
	Categories      map[string]int64
	GlobalWordCount int64
}

// NewInfoClassifierResponse converts classifier info for the api.
func NewInfoClassifierResponse(info bayes.Info) *InfoClassifierResponse {
	categories := info.Categories
	if categories == nil {
		categories = map[string]int64{}
	}
	return &InfoClassifierResponse{
		Namespace:       info.Namespace,
		Categories:      categories,
		GlobalWordCount: info.GlobalWordCount,
	}
}

// ClassificationResponse holds the ranked categories, best first.
type ClassificationResponse struct {
	Results []bayes.Result
}

// NewClassificationResponse wraps ranked results.
func NewClassificationResponse(results []bayes.Result) *ClassificationResponse {
	if results == nil {
		results = []bayes.Result{}
	}
	return &ClassificationResponse{Results: results}
}

// BlacklistResponse describes one blacklist entry.
type BlacklistResponse struct {
	Word        string
	Blacklisted bool  `json:",omitempty"`
	Hits        int64 `json:",omitempty"`
	Removed     int64 `json:",omitempty"`
}

// DebugResponse carries the trace lines drained by GET /debug.
type DebugResponse struct {
	Lines []string
}
