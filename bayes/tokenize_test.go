package bayes

import (
	"reflect"
	"testing"
)

func TestTokenizerTokens(t *testing.T) {
	tests := []struct {
		name  string
		tok   Tokenizer
		input string
		want  []string
	}{
		{name: "lowercases and splits", input: "Hello   WORLD\nagain", want: []string{"hello", "world", "again"}},
		{name: "drops short words", input: "a an the to be", want: []string{"the"}},
		{name: "keeps repeats", input: "buy buy now", want: []string{"buy", "buy", "now"}},
		{name: "counts runes not bytes", input: "né été ñoño", want: []string{"été", "ñoño"}},
		{name: "custom minimum", tok: Tokenizer{MinLength: 4}, input: "tiny small large", want: []string{"small", "large"}},
		{name: "stems", tok: Tokenizer{Stem: true}, input: "running jumps", want: []string{"run", "jump"}},
		{name: "nfkc folds compatibility forms", tok: Tokenizer{Unicode: true}, input: "ｆｕｌｌ", want: []string{"full"}},
		{name: "empty", input: " \t ", want: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.tok.Tokens(tc.input)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("unexpected tokens: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTokenizerNormalize(t *testing.T) {
	var tok Tokenizer
	if got, ok := tok.Normalize("BANANA"); !ok || got != "banana" {
		t.Fatalf("unexpected normalize result: %q, %v", got, ok)
	}
	if _, ok := tok.Normalize("ok"); ok {
		t.Fatal("expected two-rune word to be dropped")
	}
}
