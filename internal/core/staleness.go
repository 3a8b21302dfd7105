package core

import "fmt"

// StaleReason explains a staleness verdict. The empty reason means fresh.
type StaleReason string

const (
	Fresh                 StaleReason = ""
	ReasonNoRecord        StaleReason = "no-record"
	ReasonOutputMissing   StaleReason = "output-missing"
	ReasonInputChanged    StaleReason = "input-changed"
	ReasonOutputChanged   StaleReason = "output-changed"
	ReasonVariantChanged  StaleReason = "variant-changed"
	ReasonSlotsChanged    StaleReason = "slots-changed"
	ReasonUpstreamChanged StaleReason = "upstream-changed"
)

// Verdict is the result of a staleness check for one node.
type Verdict struct {
	Stale  bool
	Reason StaleReason

	// Slot names the input or output that triggered the verdict, if any.
	Slot string

	// Inputs holds the current fingerprint of every declared input, keyed by
	// slot name. It is populated whenever the check succeeds.
	Inputs map[string]Fingerprint
}

func staleVerdict(reason StaleReason, slot string, inputs map[string]Fingerprint) Verdict {
	return Verdict{Stale: true, Reason: reason, Slot: slot, Inputs: inputs}
}

// Check decides whether node must be reproduced.
//
// A node is stale if any output is missing, no record exists, the recorded
// variant differs, any recorded input fingerprint differs from the current
// one, or any output no longer matches the fingerprint recorded when it was
// produced. Inputs are always fingerprinted first: an unreadable input is an
// error, not a stale verdict.
func (s *FingerprintStore) Check(node, variant string, inputs, outputs []ArtifactRef) (Verdict, error) {
	current := make(map[string]Fingerprint, len(inputs))
	for _, in := range inputs {
		fp, err := s.Fingerprint(in)
		if err != nil {
			return Verdict{}, err
		}
		current[in.Slot.Name] = fp
	}

	for _, out := range outputs {
		ok, err := out.Exists()
		if err != nil {
			return Verdict{}, fmt.Errorf("checking output %s: %w", out.Slot, err)
		}
		if !ok {
			return staleVerdict(ReasonOutputMissing, out.Slot.Name, current), nil
		}
	}

	rec, err := s.records.LoadRecord(node)
	if err != nil {
		return Verdict{}, fmt.Errorf("loading production record for %s: %w", node, err)
	}
	if rec == nil {
		return staleVerdict(ReasonNoRecord, "", current), nil
	}
	if rec.Variant != variant {
		return staleVerdict(ReasonVariantChanged, "", current), nil
	}
	if len(rec.Inputs) != len(current) || len(rec.Outputs) != len(outputs) {
		return staleVerdict(ReasonSlotsChanged, "", current), nil
	}
	for _, in := range inputs {
		if rec.Inputs[in.Slot.Name] != current[in.Slot.Name] {
			return staleVerdict(ReasonInputChanged, in.Slot.Name, current), nil
		}
	}
	for _, out := range outputs {
		want, ok := rec.Outputs[out.Slot.Name]
		if !ok {
			return staleVerdict(ReasonSlotsChanged, out.Slot.Name, current), nil
		}
		got, err := s.Fingerprint(out)
		if err != nil {
			return Verdict{}, err
		}
		if got != want {
			return staleVerdict(ReasonOutputChanged, out.Slot.Name, current), nil
		}
	}
	return Verdict{Inputs: current}, nil
}

// IsStale reports whether output must be reproduced from inputs.
//
// It is true if the output is missing, no record exists for the output's
// node, the recorded fingerprints of inputs differ from their current ones,
// or the output itself differs from what was recorded.
func (s *FingerprintStore) IsStale(output ArtifactRef, inputs []ArtifactRef) (bool, error) {
	ok, err := output.Exists()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	rec, err := s.records.LoadRecord(output.Slot.Node)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	for _, in := range inputs {
		fp, err := s.Fingerprint(in)
		if err != nil {
			return false, err
		}
		recorded, ok := rec.Inputs[in.Slot.Name]
		if !ok || recorded != fp {
			return true, nil
		}
	}
	want, ok := rec.Outputs[output.Slot.Name]
	if !ok {
		return true, nil
	}
	got, err := s.Fingerprint(output)
	if err != nil {
		return false, err
	}
	return got != want, nil
}

// Record fingerprints outputs and persists the production record for node.
// Outputs are forgotten first so that freshly written content is digested.
func (s *FingerprintStore) Record(node, variant string, inputs map[string]Fingerprint, outputs []ArtifactRef, key CacheKey, source ProductionSource) (ProductionRecord, error) {
	rec := ProductionRecord{
		Node:     node,
		Variant:  variant,
		Inputs:   make(map[string]Fingerprint, len(inputs)),
		Outputs:  make(map[string]Fingerprint, len(outputs)),
		CacheKey: key,
		Source:   source,
	}
	for k, v := range inputs {
		rec.Inputs[k] = v
	}
	for _, out := range outputs {
		s.ForgetRef(out)
		fp, err := s.Fingerprint(out)
		if err != nil {
			return ProductionRecord{}, err
		}
		rec.Outputs[out.Slot.Name] = fp
	}
	if err := s.records.SaveRecord(rec); err != nil {
		return ProductionRecord{}, fmt.Errorf("saving production record for %s: %w", node, err)
	}
	return rec, nil
}

// Invalidate removes node's record, so an interrupted production can never
// be mistaken for a fresh one.
func (s *FingerprintStore) Invalidate(node string, outputs []ArtifactRef) error {
	for _, out := range outputs {
		s.ForgetRef(out)
	}
	if err := s.records.DeleteRecord(node); err != nil {
		return fmt.Errorf("deleting production record for %s: %w", node, err)
	}
	return nil
}
