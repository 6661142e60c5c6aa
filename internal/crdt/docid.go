package crdt

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// View selects which serialization variant of a Submodel a DocId tracks.
type View int

const (
	ViewNormal View = iota
	ViewValue
	ViewMetadata
)

func (v View) String() string {
	switch v {
	case ViewNormal:
		return "normal"
	case ViewValue:
		return "value"
	case ViewMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// ParseView parses the canonical string form produced by View.String.
func ParseView(s string) (View, error) {
	switch s {
	case "normal":
		return ViewNormal, nil
	case "value":
		return ViewValue, nil
	case "metadata":
		return ViewMetadata, nil
	default:
		return 0, fmt.Errorf("crdt: unknown view %q", s)
	}
}

// DocId identifies one synchronized document: a Submodel's serialization of
// a given View, scoped to its owning AAS.
type DocId struct {
	AasID      string
	SubmodelID string
	View       View
}

// String renders the canonical "<aas_id>:<submodel_id>:<view>" form.
func (d DocId) String() string {
	return d.AasID + ":" + d.SubmodelID + ":" + d.View.String()
}

// ParseDocId parses the canonical string form produced by String.
func ParseDocId(s string) (DocId, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return DocId{}, fmt.Errorf("crdt: invalid doc id %q", s)
	}
	view, err := ParseView(parts[2])
	if err != nil {
		return DocId{}, fmt.Errorf("crdt: invalid doc id %q: %w", s, err)
	}
	return DocId{AasID: parts[0], SubmodelID: parts[1], View: view}, nil
}

// Hash returns the doc_hash: a 64-bit non-cryptographic hash of the
// canonical string form, rendered as 16 lowercase hex digits. It is used
// only for topic sharding; messages always carry the full doc_id, so hash
// collisions never cause misdelivery to be mistaken for a different
// document.
func (d DocId) Hash() string {
	sum := xxhash.Sum64String(d.String())
	return fmt.Sprintf("%016x", sum)
}
