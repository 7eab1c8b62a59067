package merge

import (
	"fmt"

	"github.com/agentstation/collate/internal/classify"
	"github.com/agentstation/collate/pkg/dupes"
)

// mergeDocument implements highest-version-wins for VersionedDocument
// groups. The canonical output is the verbatim content of the candidate
// with the greatest version number; document bodies are never interleaved.
// Lower-numbered candidates are recorded as consumed sources only.
func mergeDocument(c *classify.Classified) ([]byte, []dupes.Conflict) {
	var winner *classify.Document
	for _, doc := range c.Docs {
		if winner == nil || doc.Candidate.Version > winner.Candidate.Version {
			winner = doc
		}
	}
	if winner == nil {
		return nil, nil
	}

	// Losing candidates with differing content are logged as tie-breaks so
	// the audit trail shows what text was superseded.
	var conflicts []dupes.Conflict
	for _, doc := range c.Docs {
		if doc == winner || string(doc.Raw) == string(winner.Raw) {
			continue
		}
		conflicts = append(conflicts, dupes.Conflict{
			Location: "(document body)",
			Values: []dupes.ConflictValue{
				{
					Value:         fmt.Sprintf("%d bytes (superseded)", len(doc.Raw)),
					SourcePath:    doc.Candidate.Path,
					SourceVersion: doc.Candidate.Version,
				},
				{
					Value:         fmt.Sprintf("%d bytes (kept)", len(winner.Raw)),
					SourcePath:    winner.Candidate.Path,
					SourceVersion: winner.Candidate.Version,
				},
			},
			Resolution: dupes.TieBreak("highest version number"),
		})
	}
	return winner.Raw, conflicts
}
