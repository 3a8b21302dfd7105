package core

import (
	"strings"
	"testing"
)

func TestVariantTag_StableAcrossMapOrder(t *testing.T) {
	a := Variant{Template: "lm.KenLM", Run: "lmplz", Config: map[string]any{"order": 5, "prune": "0 0 1"}, Version: 1}
	b := Variant{Template: "lm.KenLM", Run: "lmplz", Config: map[string]any{"prune": "0 0 1", "order": 5}, Version: 1}
	ta, err := VariantTag(a)
	if err != nil {
		t.Fatalf("VariantTag: %v", err)
	}
	tb, err := VariantTag(b)
	if err != nil {
		t.Fatalf("VariantTag: %v", err)
	}
	if ta != tb {
		t.Errorf("map order changed the tag: %s vs %s", ta, tb)
	}
}

// TestVariantTag_CoversOptions verifies every part of the variant changes
// the tag, so a result computed under other options is never served.
func TestVariantTag_CoversOptions(t *testing.T) {
	base := Variant{Template: "align.Giza", Run: "giza", Config: map[string]any{"iterations": 5}, Version: 1}
	baseTag, err := VariantTag(base)
	if err != nil {
		t.Fatal(err)
	}
	variants := map[string]Variant{
		"template": {Template: "align.Fast", Run: "giza", Config: map[string]any{"iterations": 5}, Version: 1},
		"run":      {Template: "align.Giza", Run: "giza -v", Config: map[string]any{"iterations": 5}, Version: 1},
		"config":   {Template: "align.Giza", Run: "giza", Config: map[string]any{"iterations": 6}, Version: 1},
		"version":  {Template: "align.Giza", Run: "giza", Config: map[string]any{"iterations": 5}, Version: 2},
	}
	for name, v := range variants {
		tag, err := VariantTag(v)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if tag == baseTag {
			t.Errorf("changing %s did not change the variant tag", name)
		}
	}
}

func TestDeriveCacheKey_Format(t *testing.T) {
	key, err := DeriveCacheKey(map[string]Fingerprint{"src": "bbbb", "trg": "aaaa"}, "v1")
	if err != nil {
		t.Fatalf("DeriveCacheKey: %v", err)
	}
	if key != "bbbb_aaaa,v1" {
		t.Errorf("key = %s, want fingerprints ordered by slot name", key)
	}

	none, err := DeriveCacheKey(nil, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if none != "none,v1" {
		t.Errorf("key without inputs = %s", none)
	}
}

func TestDeriveCacheKey_LongKeysAreDigested(t *testing.T) {
	inputs := map[string]Fingerprint{}
	for _, name := range []string{"a", "b", "c", "d"} {
		inputs[name] = Fingerprint(strings.Repeat(name, 64))
	}
	key, err := DeriveCacheKey(inputs, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(key) > maxKeyLength {
		t.Errorf("key length %d exceeds %d", len(key), maxKeyLength)
	}
	if !strings.HasPrefix(string(key), "h-") || !strings.HasSuffix(string(key), ",v1") {
		t.Errorf("long key = %s, want h-<digest>,v1", key)
	}

	inputs["d"] = Fingerprint(strings.Repeat("e", 64))
	other, err := DeriveCacheKey(inputs, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if other == key {
		t.Error("digested keys collide for different inputs")
	}
}

func TestDeriveCacheKey_RequiresVariant(t *testing.T) {
	if _, err := DeriveCacheKey(map[string]Fingerprint{"a": "1"}, ""); err == nil {
		t.Fatal("expected error without variant tag")
	}
}
