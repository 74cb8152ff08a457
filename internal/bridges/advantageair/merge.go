package advantageair

// Tree is a nested change or state document: string keys mapping to scalars,
// slices or further mappings.
type Tree map[string]any

// Update deep-merges src into dst and returns dst.
//
// A mapping in src is merged key by key into the mapping dst holds at the
// same key, starting from an empty mapping when dst has none or holds a
// scalar there. Every other value in src replaces dst's value wholesale.
// Mappings copied out of src are fresh copies, so later updates to the
// result never write into src. A nil dst yields a new tree.
func Update(dst, src Tree) Tree {
	if dst == nil {
		dst = make(Tree, len(src))
	}
	for k, v := range src {
		sub, ok := asMap(v)
		if !ok {
			dst[k] = v
			continue
		}
		existing, _ := asMap(dst[k])
		dst[k] = map[string]any(Update(Tree(existing), Tree(sub)))
	}
	return dst
}

// Clone returns a deep copy of t's nested mappings.
func Clone(t Tree) Tree {
	return Update(make(Tree, len(t)), t)
}

// asMap reports whether v is a mapping and returns it.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Tree:
		return map[string]any(m), true
	case Snapshot:
		return map[string]any(m), true
	default:
		return nil, false
	}
}
