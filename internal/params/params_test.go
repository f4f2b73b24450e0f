package params

import (
	"testing"

	"textrain/internal/domain"
)

func TestParseTokens(t *testing.T) {
	set, err := Parse("convert:evaluate:scores:a2Tag=rel:omitSteps=NER,DIVIDE-SETS", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !set.Has("convert") || !set.Has("scores") {
		t.Fatalf("missing flags in %v", set.Keys())
	}
	if got := set.Get("a2Tag"); got != "rel" {
		t.Fatalf("a2Tag = %q, want rel", got)
	}
	if got := set.Values("omitSteps"); len(got) != 2 || got[0] != "NER" || got[1] != "DIVIDE-SETS" {
		t.Fatalf("omitSteps = %v", got)
	}
	if set.Has("missing") || set.Get("missing") != "" {
		t.Fatalf("absent key should be empty")
	}
}

func TestParseEmptyAndSkippedTokens(t *testing.T) {
	set, err := Parse("", nil)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("empty input produced %d keys", set.Len())
	}
	set, err = Parse("::a::b=1:", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("want 2 keys, got %v", set.Keys())
	}
}

func TestParseValidKeys(t *testing.T) {
	_, err := Parse("TRAIN=GRID:BOGUS", []string{"TRAIN", "DEVEL", "EMPTY", "TEST"})
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !domain.IsConfig(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseOnlyFirstEqualsSplits(t *testing.T) {
	set, err := Parse("maskTypeAsProtein=Gene=X", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := set.Get("maskTypeAsProtein"); got != "Gene=X" {
		t.Fatalf("value = %q", got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	in := "trigger_features:typed:no_linear:entities:noMasking:maxFeatures:bacteria_renaming:maskTypeAsProtein=Gene"
	set, err := Parse(in, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	again, err := Parse(set.String(), nil)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !set.Equal(again) {
		t.Fatalf("round trip changed set: %q vs %q", set.String(), again.String())
	}
}

func TestWithout(t *testing.T) {
	set := MustParse("convert:evaluate:scores")
	trimmed := set.Without("scores")
	if trimmed.Has("scores") {
		t.Fatalf("scores still present")
	}
	if !set.Has("scores") {
		t.Fatalf("original set mutated")
	}
	if trimmed.String() != "convert:evaluate" {
		t.Fatalf("serialized = %q", trimmed.String())
	}
}

func TestLastBindingWins(t *testing.T) {
	set := MustParse("c=1:c=2,3")
	if got := set.Values("c"); len(got) != 2 || got[0] != "2" {
		t.Fatalf("c = %v", got)
	}
	if set.Len() != 1 {
		t.Fatalf("duplicate key duplicated: %v", set.Keys())
	}
}

func TestApplyDefault(t *testing.T) {
	cases := []struct {
		current, fallback, want string
	}{
		{"", "convert:scores", "convert:scores"},
		{"convert", "convert:scores", "convert"},
		{"", "", ""},
	}
	for _, c := range cases {
		if got := ApplyDefault(c.current, c.fallback); got != c.want {
			t.Fatalf("ApplyDefault(%q, %q) = %q, want %q", c.current, c.fallback, got, c.want)
		}
	}
}
