// Package classify inspects a duplicate group's content and assigns it a
// ContentShape, which selects the merge strategy downstream. Each candidate
// is parsed with a format-appropriate parser; a parse failure on one
// candidate excludes it and the group proceeds with the rest.
package classify

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

// idCoverageThreshold is the share of records, across all candidates, that
// must expose a common identifying field for a group to classify as
// ArrayOfRecords.
const idCoverageThreshold = 0.9

// versionHeading detects a leading numeric version marker in a text
// document, e.g. "# 3", "## v2", "Version 7".
var versionHeading = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:v|version\s+)?\d+\b`)

// Document is one successfully parsed candidate.
type Document struct {
	// Candidate is the file the document was read from.
	Candidate dupes.Candidate

	// Raw is the file's exact content.
	Raw []byte

	// Value is the decoded content: map[string]any, []any, or string for
	// text formats.
	Value any
}

// Mapping returns the decoded value as a mapping, when it is one.
func (d *Document) Mapping() (map[string]any, bool) {
	m, ok := d.Value.(map[string]any)
	return m, ok
}

// Sequence returns the decoded value as a sequence, when it is one.
func (d *Document) Sequence() ([]any, bool) {
	s, ok := d.Value.([]any)
	return s, ok
}

// Classified is a duplicate group together with its parsed candidates and
// inferred shape. Candidates that failed to parse are flagged on the group
// and absent from Docs.
type Classified struct {
	// Group is the group that was classified; its Shape field is filled in.
	Group *dupes.DuplicateGroup

	// Format is the parser family used for the group.
	Format Format

	// IDField is the identifying field for ArrayOfRecords groups, empty
	// otherwise.
	IDField string

	// Docs are the parse-ok candidates in candidate order (incumbent first,
	// then ascending version).
	Docs []*Document
}

// Classify parses every candidate in the group and infers its ContentShape.
// Decision order: all-sequences with a common id field, then all-mappings,
// then versioned text, then opaque.
func Classify(ctx context.Context, group *dupes.DuplicateGroup) (*Classified, error) {
	log := logging.Ctx(ctx)

	format := FormatFor(ext(group.CanonicalName))
	c := &Classified{Group: group, Format: format}

	if format == FormatUnknown {
		group.Shape = dupes.ShapeOpaque
		return c, nil
	}

	for i := range group.Candidates {
		cand := &group.Candidates[i]
		raw, err := os.ReadFile(cand.Path)
		if err != nil {
			cand.ParseFailed = true
			log.Warn().Str("path", cand.Path).Err(err).Msg("unreadable candidate excluded")
			continue
		}
		value, err := Decode(format, cand.Path, raw)
		if err != nil {
			cand.ParseFailed = true
			log.Warn().Str("path", cand.Path).Err(errors.WrapParse(string(format), cand.Path, err)).
				Msg("unparseable candidate excluded")
			continue
		}
		c.Docs = append(c.Docs, &Document{Candidate: *cand, Raw: raw, Value: value})
	}

	if len(c.Docs) == 0 {
		// Nothing parseable left. Escalate rather than guess.
		group.Shape = dupes.ShapeOpaque
		return c, nil
	}

	group.Shape = c.infer()
	return c, nil
}

// infer applies the shape decision order to the parsed documents.
func (c *Classified) infer() dupes.ContentShape {
	if c.Format.Structured() {
		if field, ok := c.recordsField(); ok {
			c.IDField = field
			return dupes.ShapeArrayOfRecords
		}
		if c.allMappings() {
			return dupes.ShapeObjectDocument
		}
		return dupes.ShapeOpaque
	}

	// Text formats: the filename suffix is itself a version marker, and a
	// duplicate group always has at least one suffixed member, so a leading
	// numeric heading only reinforces what we already know.
	if c.versionedText() {
		return dupes.ShapeVersionedDocument
	}
	return dupes.ShapeOpaque
}

// recordsField checks whether every document is a sequence of mappings and
// at least 90% of elements across all documents expose a common identifying
// field. It returns that field.
func (c *Classified) recordsField() (string, bool) {
	total := 0
	counts := make(map[string]int)
	candidates := idFieldCandidates(c.Group.CanonicalName)

	for _, doc := range c.Docs {
		seq, ok := doc.Sequence()
		if !ok {
			return "", false
		}
		for _, el := range seq {
			m, ok := el.(map[string]any)
			if !ok {
				return "", false
			}
			total++
			for _, field := range candidates {
				if _, present := m[field]; present {
					counts[field]++
				}
			}
		}
	}
	if total == 0 {
		return "", false
	}
	for _, field := range candidates {
		if float64(counts[field])/float64(total) >= idCoverageThreshold {
			return field, true
		}
	}
	return "", false
}

// allMappings reports whether every document decoded to a single mapping.
func (c *Classified) allMappings() bool {
	for _, doc := range c.Docs {
		if _, ok := doc.Mapping(); !ok {
			return false
		}
	}
	return true
}

// versionedText reports whether the text documents carry a detectable
// version marker: a suffixed filename in the group, or a leading numeric
// heading in the body.
func (c *Classified) versionedText() bool {
	for _, doc := range c.Docs {
		if doc.Candidate.Version > 0 {
			return true
		}
		if body, ok := doc.Value.(string); ok && versionHeading.MatchString(body) {
			return true
		}
	}
	return false
}

// idFieldCandidates returns the field names accepted as identifying for a
// canonical name, in preference order: literal "id", then "<base>_id", then
// the singular "<base minus trailing s>_id" for plural base names.
func idFieldCandidates(canonicalName string) []string {
	base := canonicalName
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = strings.ToLower(base)
	fields := []string{"id", base + "_id"}
	if strings.HasSuffix(base, "s") && len(base) > 1 {
		fields = append(fields, strings.TrimSuffix(base, "s")+"_id")
	}
	return fields
}

// ext returns the lower-cased extension of a canonical name, without dot.
func ext(canonicalName string) string {
	i := strings.LastIndex(canonicalName, ".")
	if i < 0 || i == len(canonicalName)-1 {
		return ""
	}
	return strings.ToLower(canonicalName[i+1:])
}
