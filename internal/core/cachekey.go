package core

import (
	"fmt"
	"sort"
	"strings"
)

// CacheKey names a content-addressed cache entry.
//
// Its textual form is "{fpA}_{fpB}...,{variant}": the fingerprints of every
// input the computation reads, ordered by slot name, followed by the
// computation's variant tag. Keys never contain paths, so an entry stays
// valid for as long as it exists.
type CacheKey string

func (k CacheKey) String() string {
	return string(k)
}

// maxKeyLength bounds the key so it stays usable as a file name.
const maxKeyLength = 200

// noInputs stands in for the fingerprint part of a computation with no inputs.
const noInputs = "none"

// Variant describes everything besides input content that affects what a
// computation produces.
type Variant struct {
	Template string
	Run      string
	Config   map[string]any
	Version  int
}

// VariantTag digests v into a short stable tag.
//
// Config is encoded with deterministic CBOR, so map ordering never changes
// the tag.
func VariantTag(v Variant) (string, error) {
	payload := struct {
		Template string         `cbor:"1,keyasint"`
		Run      string         `cbor:"2,keyasint"`
		Config   map[string]any `cbor:"3,keyasint"`
		Version  int            `cbor:"4,keyasint"`
	}{v.Template, v.Run, v.Config, v.Version}

	data, err := MarshalCBOR(payload)
	if err != nil {
		return "", fmt.Errorf("encoding variant of %s: %w", v.Template, err)
	}
	return "v" + keyedHex(variantDomainKey, data)[:32], nil
}

// DeriveCacheKey builds the key for inputs (slot name to fingerprint) under
// the given variant tag.
func DeriveCacheKey(inputs map[string]Fingerprint, variant string) (CacheKey, error) {
	if variant == "" {
		return "", fmt.Errorf("cache key requires a variant tag")
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		fp := inputs[name]
		if fp == "" {
			return "", fmt.Errorf("cache key: input %s has no fingerprint", name)
		}
		parts = append(parts, string(fp))
	}

	fps := noInputs
	if len(parts) > 0 {
		fps = strings.Join(parts, "_")
	}
	if len(fps)+1+len(variant) > maxKeyLength {
		fps = "h-" + keyedHex(keyDomainKey, []byte(fps))
	}
	return CacheKey(fps + "," + variant), nil
}

// shard returns the two-character prefix used to spread entries over
// directories or object prefixes.
func (k CacheKey) shard() string {
	s := string(k)
	if strings.HasPrefix(s, "h-") {
		s = s[2:]
	}
	if len(s) < 2 {
		return "_" + s
	}
	return s[:2]
}
