package crdt

import (
	"strings"
)

// PathSegment is one dot-separated component of a canonical path: a plain
// idShort, or an idShort qualified with a stable list-element id.
type PathSegment struct {
	IDShort   string
	ElementID string // empty unless this segment addresses a list element
}

// HasElement reports whether the segment carries a list-element id.
func (s PathSegment) HasElement() bool { return s.ElementID != "" }

func (s PathSegment) String() string {
	if s.HasElement() {
		return s.IDShort + "[" + s.ElementID + "]"
	}
	return s.IDShort
}

// CanonicalPath is a sequence of PathSegments. The empty path is the root.
type CanonicalPath []PathSegment

// String renders the path as the dot-joined form used as the CRDT key:
// "idShort.child[elementId].grandchild".
func (p CanonicalPath) String() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ".")
}

// ParsePath parses a canonical path string produced by String. The empty
// string parses to the root (an empty CanonicalPath). List elements MUST be
// addressed by the bracketed stable element id, never by positional index,
// so that concurrent inserts/removes in other replicas never alias.
func ParsePath(s string) (CanonicalPath, error) {
	if s == "" {
		return CanonicalPath{}, nil
	}
	rawSegments := strings.Split(s, ".")
	path := make(CanonicalPath, 0, len(rawSegments))
	for _, raw := range rawSegments {
		seg, err := parseSegment(raw)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	return path, nil
}

func parseSegment(raw string) (PathSegment, error) {
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return PathSegment{IDShort: raw}, nil
	}
	if !strings.HasSuffix(raw, "]") {
		return PathSegment{}, &PathError{Path: raw, Reason: "unterminated list-element bracket"}
	}
	idShort := raw[:open]
	elementID := raw[open+1 : len(raw)-1]
	if idShort == "" || elementID == "" {
		return PathSegment{}, &PathError{Path: raw, Reason: "empty idShort or element id"}
	}
	return PathSegment{IDShort: idShort, ElementID: elementID}, nil
}

// PathError reports a malformed canonical path.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return "crdt: invalid path " + e.Path + ": " + e.Reason
}

// Child appends a plain idShort segment, returning a new path.
func (p CanonicalPath) Child(idShort string) CanonicalPath {
	return append(append(CanonicalPath{}, p...), PathSegment{IDShort: idShort})
}

// ListElement appends a list-element segment addressed by its stable id.
func (p CanonicalPath) ListElement(idShort, elementID string) CanonicalPath {
	return append(append(CanonicalPath{}, p...), PathSegment{IDShort: idShort, ElementID: elementID})
}
