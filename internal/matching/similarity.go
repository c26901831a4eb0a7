// Package matching computes similarity scores between a reference track
// (the metadata a user intends to acquire) and candidate files a source
// provider returned, so the sync handler can pick the best download
// candidate. It is a pure, side-effect-free scoring library: no I/O, no
// clock, no store access.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Reference describes the track a user's intent resolved to, typically
// via the metadata provider.
type Reference struct {
	Artist      string
	Title       string
	Album       string
	DurationSec int
}

// Candidate describes a single file a source provider offered.
type Candidate struct {
	Filename    string
	DurationSec int
	Bitrate     int
}

// Score is a similarity verdict in [0, 1], plus the components that
// produced it so callers can log or threshold on individual signals.
type Score struct {
	Overall        float64
	TitleScore     float64
	ArtistScore    float64
	DurationScore  float64
	BitratePenalty float64
}

// stripDiacritics removes combining marks after NFKD decomposition, folding
// "café" and "cafe" to the same comparison key, the same approach the
// teacher's channel slugifier hand-rolls for a fixed Latin-1 alphabet,
// generalized here to arbitrary Unicode via golang.org/x/text.
var stripDiacritics = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeKey lowercases, strips diacritics, and collapses whitespace and
// punctuation to single spaces, producing a comparison key stable across
// "Beyoncé" / "Beyonce", "Mötley Crüe" / "Motley Crue", extra spacing, etc.
func normalizeKey(s string) string {
	folded, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastWasSpace := true
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		case !lastWasSpace:
			b.WriteRune(' ')
			lastWasSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenize splits a normalized key into a set-like slice of words.
func tokenize(s string) []string {
	return strings.Fields(s)
}

// jaccard computes set similarity over token sets, robust to reordering
// ("Artist feat. Someone" vs "Someone feat. Artist") and to bag-of-words
// noise from release-specific suffixes ("(Remastered 2011)").
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA)
	for t := range setB {
		if _, ok := setA[t]; !ok {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

// durationScore scores how close two durations are, tolerant of a few
// seconds of encoder/container rounding but penalizing anything beyond
// toleranceSec sharply.
func durationScore(ref, candidate, toleranceSec int) float64 {
	if ref <= 0 || candidate <= 0 {
		return 0.5 // unknown duration on either side: neither confirm nor deny
	}
	diff := ref - candidate
	if diff < 0 {
		diff = -diff
	}
	if diff <= toleranceSec {
		return 1
	}
	// Linear falloff to zero over the next 4x the tolerance window.
	span := toleranceSec * 4
	if span <= 0 {
		span = 1
	}
	score := 1 - float64(diff-toleranceSec)/float64(span)
	if score < 0 {
		score = 0
	}
	return score
}

// bitratePenalty discourages very low-bitrate candidates without
// disqualifying them outright; a lossless or high-bitrate file gets zero
// penalty.
func bitratePenalty(bitrateKbps int) float64 {
	switch {
	case bitrateKbps <= 0:
		return 0.1 // unknown; mild caution
	case bitrateKbps >= 256:
		return 0
	case bitrateKbps >= 192:
		return 0.05
	case bitrateKbps >= 128:
		return 0.15
	default:
		return 0.35
	}
}

// Similarity scores candidate against ref. The filename is matched as a
// whole against "artist title", since source providers rarely expose
// separate artist/title fields on the wire — this mirrors how a human
// skims a results list.
func Similarity(ref Reference, candidate Candidate, durationToleranceSec int) Score {
	refKey := normalizeKey(ref.Artist + " " + ref.Title)
	fileKey := normalizeKey(stripExtension(candidate.Filename))

	titleScore := jaccard(tokenize(normalizeKey(ref.Title)), tokenize(fileKey))
	artistScore := jaccard(tokenize(normalizeKey(ref.Artist)), tokenize(fileKey))
	overallTokenScore := jaccard(tokenize(refKey), tokenize(fileKey))

	dScore := durationScore(ref.DurationSec, candidate.DurationSec, durationToleranceSec)
	penalty := bitratePenalty(candidate.Bitrate)

	// Weighted blend: token overlap dominates, duration confirms, bitrate
	// only nudges the score down.
	overall := 0.55*overallTokenScore + 0.2*titleScore + 0.1*artistScore + 0.15*dScore - penalty
	if overall < 0 {
		overall = 0
	}
	if overall > 1 {
		overall = 1
	}

	return Score{
		Overall:        overall,
		TitleScore:     titleScore,
		ArtistScore:    artistScore,
		DurationScore:  dScore,
		BitratePenalty: penalty,
	}
}

func stripExtension(filename string) string {
	base := filename
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '\\'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}
	return base
}

// Best returns the index of the highest-scoring candidate and its Score.
// Returns -1 if candidates is empty.
func Best(ref Reference, candidates []Candidate, durationToleranceSec int) (int, Score) {
	bestIdx := -1
	var best Score
	for i, c := range candidates {
		s := Similarity(ref, c, durationToleranceSec)
		if bestIdx == -1 || s.Overall > best.Overall {
			bestIdx = i
			best = s
		}
	}
	return bestIdx, best
}
