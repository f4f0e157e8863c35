// Package detect finds request-body fields that vary across recordings of the
// same endpoint, scores how likely each variation is noise, and turns the
// result into ignore rules for stub mappings.
package detect

import (
	"github.com/sloppylopez/stablemock/pkg/body"
	"github.com/sloppylopez/stablemock/pkg/fieldpath"
)

// MinSamples is the number of samples needed before anything can be called varying.
const MinSamples = 2

// Variation is a path whose value is not identical across samples.
type Variation struct {
	Path    string
	Dialect body.Dialect
	// Values holds every observed value in sample order, occurrences included.
	Values []string
	// Present counts the samples that contain the path.
	Present int
	// Missing is set when at least one sample lacks the path.
	Missing bool
}

// Distinct returns the unique values in first-seen order.
func (v Variation) Distinct() []string {
	seen := make(map[string]struct{}, len(v.Values))
	out := make([]string, 0, len(v.Values))
	for _, s := range v.Values {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

type observed struct {
	kind body.Kind
	text string
}

type pathTrack struct {
	path    string
	dialect body.Dialect
	// perSample[i] is the occurrence sequence in sample i; nil means absent.
	perSample [][]observed
}

type trackKey struct {
	dialect body.Dialect
	path    string
}

// Compare aligns the observations of several samples by path and returns the
// paths that are not constant, in first-seen order.
//
// A path is constant when every sample contains it and the (kind, value)
// sequence of its occurrences is identical in each. With fewer than
// MinSamples samples nothing can be proven, so the result is empty.
func Compare(samples []fieldpath.Sample) []Variation {
	if len(samples) < MinSamples {
		return nil
	}

	var order []*pathTrack
	tracks := make(map[trackKey]*pathTrack)
	for i, s := range samples {
		for _, o := range s.Observations {
			k := trackKey{dialect: o.Dialect, path: o.Path}
			t, ok := tracks[k]
			if !ok {
				t = &pathTrack{path: o.Path, dialect: o.Dialect, perSample: make([][]observed, len(samples))}
				tracks[k] = t
				order = append(order, t)
			}
			t.perSample[i] = append(t.perSample[i], observed{kind: o.Kind, text: o.Value})
		}
	}

	var out []Variation
	for _, t := range order {
		if t.constant() {
			continue
		}
		v := Variation{Path: t.path, Dialect: t.dialect}
		for _, seq := range t.perSample {
			if seq == nil {
				v.Missing = true
				continue
			}
			v.Present++
			for _, o := range seq {
				v.Values = append(v.Values, o.text)
			}
		}
		out = append(out, v)
	}
	return out
}

func (t *pathTrack) constant() bool {
	first := t.perSample[0]
	if first == nil {
		return false
	}
	for _, seq := range t.perSample[1:] {
		if seq == nil || len(seq) != len(first) {
			return false
		}
		for i := range seq {
			if seq[i] != first[i] {
				return false
			}
		}
	}
	return true
}
