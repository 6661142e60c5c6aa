package crdt

// ElementType classifies an AAS submodel element kind. This is advisory
// metadata an adapter can attach to a path; the wire Delta itself stays the
// flat (key, value, ts) structure regardless of element kind.
type ElementType int

const (
	ElementUnknown ElementType = iota
	ElementProperty
	ElementRange
	ElementMultiLanguageProperty
	ElementReferenceElement
	ElementBlob
	ElementFile
	ElementSubmodelElementCollection
	ElementSubmodelElementList
	ElementAnnotatedRelationshipElement
	ElementBasicEventElement
	ElementEntity
	ElementOperation
	ElementCapability
)

// MergeStrategy names how a future per-field merge implementation would
// reconcile concurrent writes to an element of a given ElementType.
type MergeStrategy int

const (
	// StrategyLWW resolves the whole element value as one LWW register.
	StrategyLWW MergeStrategy = iota
	// StrategyPerFieldLWW resolves each structural field of the element
	// independently, each as its own LWW register.
	StrategyPerFieldLWW
	// StrategyOrMap treats the element's children as OR-Map entries keyed
	// by child idShort (or list-element id).
	StrategyOrMap
	// StrategyContentAddressed resolves by content hash: identical content
	// from any writer converges without needing timestamp comparison.
	StrategyContentAddressed
)

// Strategy returns the advisory merge strategy assigned to element type t;
// OrMap itself does not consult it and merges every value as one LWW
// register. Collections and lists map to OR-Maps over their
// children; composite-but-atomic types merge field-by-field; blobs/files
// merge by content hash since re-transmitting large payloads on every touch
// is wasteful; everything else is a single LWW register.
func (t ElementType) Strategy() MergeStrategy {
	switch t {
	case ElementSubmodelElementCollection, ElementSubmodelElementList, ElementEntity:
		return StrategyOrMap
	case ElementRange, ElementAnnotatedRelationshipElement, ElementBasicEventElement:
		return StrategyPerFieldLWW
	case ElementBlob, ElementFile:
		return StrategyContentAddressed
	default:
		return StrategyLWW
	}
}

// ElementTypeFromModelType maps an AAS `modelType` string (as carried on
// BaSyx/FA³ST JSON payloads) to an ElementType. Unrecognized values map to
// ElementUnknown, which merges as plain LWW.
func ElementTypeFromModelType(modelType string) ElementType {
	switch modelType {
	case "Property":
		return ElementProperty
	case "Range":
		return ElementRange
	case "MultiLanguageProperty":
		return ElementMultiLanguageProperty
	case "ReferenceElement":
		return ElementReferenceElement
	case "Blob":
		return ElementBlob
	case "File":
		return ElementFile
	case "SubmodelElementCollection":
		return ElementSubmodelElementCollection
	case "SubmodelElementList":
		return ElementSubmodelElementList
	case "AnnotatedRelationshipElement":
		return ElementAnnotatedRelationshipElement
	case "BasicEventElement":
		return ElementBasicEventElement
	case "Entity":
		return ElementEntity
	case "Operation":
		return ElementOperation
	case "Capability":
		return ElementCapability
	default:
		return ElementUnknown
	}
}
