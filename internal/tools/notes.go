package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/medsterhq/medster/internal/fhir"
)

// noteTypeMap maps common note type names to LOINC document type codes.
var noteTypeMap = map[string]string{
	"progress-note":     "11506-3",
	"discharge-summary": "18842-5",
	"consultation":      "11488-4",
	"history-physical":  "34117-2",
	"operative-note":    "11504-8",
}

// note is one decoded clinical document, indexed for full-text search.
type note struct {
	PatientID string `json:"patient_id"`
	NoteID    string `json:"note_id"`
	Date      string `json:"date"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Author    string `json:"author"`
	Content   string `json:"content"`
}

// ClinicalNotesTool searches DocumentReference text across one
// patient's bundle. Notes are base64-decoded and indexed in an
// in-memory bleve index per patient, built lazily on first search.
type ClinicalNotesTool struct {
	Store *fhir.Store

	mu      sync.Mutex
	indexes map[string]bleve.Index
	notes   map[string]map[string]note
}

func (t *ClinicalNotesTool) Name() string { return "search_clinical_notes" }
func (t *ClinicalNotesTool) Description() string {
	return "Full-text search over a patient's clinical notes (progress notes, discharge summaries, consultations). Returns matching notes with content."
}
func (t *ClinicalNotesTool) Schema() string {
	return `{
  "type": "object",
  "required": ["patient_id"],
  "properties": {
    "patient_id": {"type": "string", "minLength": 1, "description": "The patient's unique identifier."},
    "query": {"type": "string", "description": "Full-text search query. Omit to list notes without searching."},
    "note_type": {"type": "string", "description": "One of progress-note, discharge-summary, consultation, history-physical, operative-note. Omit for all."},
    "limit": {"type": "integer", "minimum": 1, "default": 10}
  },
  "additionalProperties": false
}`
}

func (t *ClinicalNotesTool) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	patientID := strArg(args, "patient_id")
	query := strArg(args, "query")
	noteType := strArg(args, "note_type")
	limit := intArg(args, "limit", 10)

	all, err := t.patientNotes(patientID)
	if err != nil {
		return nil, err
	}

	var matched []note
	if query == "" {
		for _, n := range all {
			matched = append(matched, n)
		}
		sort.Slice(matched, func(i, j int) bool { return matched[i].Date > matched[j].Date })
	} else {
		idx, err := t.patientIndex(patientID, all)
		if err != nil {
			return nil, err
		}
		q := bleve.NewQueryStringQuery(query)
		req := bleve.NewSearchRequestOptions(q, limit*3, 0, false)
		res, err := idx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("note search: %w", err)
		}
		for _, hit := range res.Hits {
			if n, ok := all[hit.ID]; ok {
				matched = append(matched, n)
			}
		}
	}

	var out []note
	typeCode := noteTypeMap[noteType]
	for _, n := range matched {
		if noteType != "" && n.Type != noteType && n.Type != typeCode {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	if out == nil {
		out = []note{}
	}

	return map[string]interface{}{
		"patient_id": patientID,
		"note_count": len(out),
		"notes":      out,
	}, nil
}

func (t *ClinicalNotesTool) patientNotes(patientID string) (map[string]note, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notes == nil {
		t.notes = make(map[string]map[string]note)
	}
	if cached, ok := t.notes[patientID]; ok {
		return cached, nil
	}

	bundle, err := t.Store.LoadBundle(patientID)
	if err != nil {
		return nil, err
	}
	notes := make(map[string]note)
	for i, r := range bundle.Search("DocumentReference", fhir.SearchParams{}) {
		n := note{
			PatientID: patientID,
			NoteID:    str(r["id"]),
			Date:      str(r["date"]),
			Status:    str(r["status"]),
			Type:      "Clinical Note",
		}
		if n.NoteID == "" {
			n.NoteID = fmt.Sprintf("note-%d", i)
		}
		if typ, ok := r["type"].(map[string]interface{}); ok {
			if text := str(typ["text"]); text != "" {
				n.Type = text
			}
		}
		if authors, ok := r["author"].([]interface{}); ok && len(authors) > 0 {
			if a, ok := authors[0].(map[string]interface{}); ok {
				n.Author = str(a["display"])
				if n.Author == "" {
					n.Author = str(a["reference"])
				}
			}
		}
		n.Content = noteContent(r)
		notes[n.NoteID] = n
	}
	t.notes[patientID] = notes
	return notes, nil
}

func (t *ClinicalNotesTool) patientIndex(patientID string, notes map[string]note) (bleve.Index, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexes == nil {
		t.indexes = make(map[string]bleve.Index)
	}
	if idx, ok := t.indexes[patientID]; ok {
		return idx, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create note index: %w", err)
	}
	for id, n := range notes {
		if err := idx.Index(id, n); err != nil {
			return nil, fmt.Errorf("index note %s: %w", id, err)
		}
	}
	t.indexes[patientID] = idx
	return idx, nil
}

// noteContent decodes the first attachment of a DocumentReference.
func noteContent(r map[string]interface{}) string {
	contents, ok := r["content"].([]interface{})
	if !ok || len(contents) == 0 {
		return ""
	}
	item, ok := contents[0].(map[string]interface{})
	if !ok {
		return ""
	}
	attachment, ok := item["attachment"].(map[string]interface{})
	if !ok {
		return ""
	}
	if data := str(attachment["data"]); data != "" {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err == nil {
			return string(decoded)
		}
		return ""
	}
	if url := str(attachment["url"]); url != "" {
		return fmt.Sprintf("[Content available at: %s]", url)
	}
	return ""
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
