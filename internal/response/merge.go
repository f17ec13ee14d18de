package response

// MergeInto applies src to dst key by key and returns dst. The rules,
// in order:
//
//   - arrays replace the previous value wholesale, never element-wise;
//   - an object merging into an existing object is merged one level
//     deep (nested objects below that level replace, they do not merge);
//   - everything else (scalar, null, type mismatch, absent target key)
//     overwrites.
//
// Keys are never deleted; the merge is additive or overwriting, never
// subtractive. Keys in src are independent of each other, so the result
// does not depend on iteration order.
func MergeInto(dst, src map[string]any) map[string]any {
	for key, value := range src {
		switch typed := value.(type) {
		case []any:
			dst[key] = typed
		case map[string]any:
			if current, ok := dst[key].(map[string]any); ok {
				dst[key] = shallowMergeOneLevel(current, typed)
			} else {
				dst[key] = typed
			}
		default:
			dst[key] = value
		}
	}
	return dst
}

// shallowMergeOneLevel combines two objects exactly one level deep: keys
// from src win, keys only in dst survive. The depth-1 boundary is a
// deliberate contract, not an optimization.
func shallowMergeOneLevel(dst, src map[string]any) map[string]any {
	merged := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = v
	}
	return merged
}
