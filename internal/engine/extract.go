// Package engine extracts subject/predicate/object relations from
// ingested text segments and embeds them into SemanticEvents. The
// entity-matching approach — build one case-insensitive regex alternation
// over a configured vocabulary, sorted longest-match-first, then scan
// co-occurring mentions within a sentence — generalizes the teacher's
// pkg/vehiclenlp make/model matcher from a fixed automotive vocabulary to
// the FixedEntities/SampleEntities a SemanticPipelineRequest configures.
package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/querent-ai/querent/internal/domain"
)

// properNounRe is the open-ended entity matcher used whenever
// fixed_entities is empty: runs of Capitalized words, independent of any
// configured vocabulary. sample_entities never restricts what this finds
// (spec §4.4) — it only supplies canonical casing for matches that happen
// to coincide with it.
var properNounRe = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*(?:\s+[A-Z][A-Za-z0-9]*)*\b`)

// Extractor finds entities in sentences and derives relations between
// entities that co-occur in the same sentence. fixed_entities, when set,
// is both a matching vocabulary and a hard filter on emitted events;
// sample_entities only ever biases canonicalization.
type Extractor struct {
	entityRe    *regexp.Regexp
	fixedCanon  map[string]string // lowercased entity -> canonical form
	sampleCanon map[string]string // lowercased entity -> canonical form
	hasFixed    bool
}

// NewExtractor builds an Extractor for a request's fixed_entities and
// sample_entities. When fixed_entities is non-empty, matching is
// restricted to the fixed+sample vocabulary and every emitted event is
// additionally filtered so both endpoints are in fixed_entities. When
// fixed_entities is empty, matching falls back to an open proper-noun
// scan so a sample_entities-only request is never restricted to its seed
// vocabulary.
func NewExtractor(fixedEntities, sampleEntities []string) *Extractor {
	fixedCanon := make(map[string]string, len(fixedEntities))
	for _, e := range fixedEntities {
		fixedCanon[strings.ToLower(e)] = e
	}
	sampleCanon := make(map[string]string, len(sampleEntities))
	for _, e := range sampleEntities {
		sampleCanon[strings.ToLower(e)] = e
	}

	x := &Extractor{fixedCanon: fixedCanon, sampleCanon: sampleCanon, hasFixed: len(fixedCanon) > 0}

	vocab := make(map[string]struct{}, len(fixedCanon)+len(sampleCanon))
	for lower := range fixedCanon {
		vocab[lower] = struct{}{}
	}
	for lower := range sampleCanon {
		vocab[lower] = struct{}{}
	}
	if len(vocab) > 0 {
		names := make([]string, 0, len(vocab))
		for lower := range vocab {
			names = append(names, regexp.QuoteMeta(lower))
		}
		sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
		x.entityRe = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)\b`)
	}
	return x
}

// mention is one entity occurrence within a sentence.
type mention struct {
	canonical string
	entType   string
	start     int
	end       int
}

// findMentions returns every entity mention in sentence, in order of
// appearance, using the restrictive vocabulary matcher when fixed_entities
// is set and the open proper-noun matcher otherwise.
func (x *Extractor) findMentions(sentence string) []mention {
	re := x.entityRe
	if !x.hasFixed {
		re = properNounRe
	}
	if re == nil {
		return nil
	}
	locs := re.FindAllStringIndex(sentence, -1)
	mentions := make([]mention, 0, len(locs))
	for _, loc := range locs {
		raw := sentence[loc[0]:loc[1]]
		mentions = append(mentions, mention{canonical: x.canonicalize(raw), entType: "entity", start: loc[0], end: loc[1]})
	}
	return mentions
}

// canonicalize maps raw to its configured canonical casing, preferring
// fixed_entities over sample_entities, falling back to raw untouched.
func (x *Extractor) canonicalize(raw string) string {
	lower := strings.ToLower(raw)
	if c, ok := x.fixedCanon[lower]; ok {
		return c
	}
	if c, ok := x.sampleCanon[lower]; ok {
		return c
	}
	return raw
}

// isFixed reports whether canonical is one of fixed_entities.
func (x *Extractor) isFixed(canonical string) bool {
	_, ok := x.fixedCanon[strings.ToLower(canonical)]
	return ok
}

// CandidateCount returns the number of adjacent distinct-entity mention
// pairs sentence contains before any fixed_entities filtering — the
// events-received half of spec §4.4's fixed-entity drop-count invariant
// (events_received − events_sent counts entities dropped by the filter).
func (x *Extractor) CandidateCount(sentence string) int {
	mentions := x.findMentions(sentence)
	if len(mentions) < 2 {
		return 0
	}
	count := 0
	for i := 0; i < len(mentions)-1; i++ {
		if strings.EqualFold(mentions[i].canonical, mentions[i+1].canonical) {
			continue
		}
		count++
	}
	return count
}

// ExtractSentence derives GraphEvents for every adjacent pair of distinct
// entity mentions in sentence. The predicate is the text spanning the two
// mentions, trimmed; an empty span falls back to "related_to".
func (x *Extractor) ExtractSentence(sentence, documentID, sourceID, collectionID string) []domain.GraphEvent {
	mentions := x.findMentions(sentence)
	if len(mentions) < 2 {
		return nil
	}

	var events []domain.GraphEvent
	for i := 0; i < len(mentions)-1; i++ {
		subj, obj := mentions[i], mentions[i+1]
		if strings.EqualFold(subj.canonical, obj.canonical) {
			continue
		}
		if x.hasFixed && (!x.isFixed(subj.canonical) || !x.isFixed(obj.canonical)) {
			continue
		}
		predicate := strings.TrimSpace(sentence[subj.end:obj.start])
		predicate = collapseSpace(predicate)
		if predicate == "" {
			predicate = "related_to"
		}
		events = append(events, domain.GraphEvent{
			Subject:      subj.canonical,
			SubjectType:  subj.entType,
			Object:       obj.canonical,
			ObjectType:   obj.entType,
			Predicate:    predicate,
			Sentence:     sentence,
			DocumentID:   documentID,
			SourceID:     sourceID,
			CollectionID: collectionID,
		})
	}
	return events
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
