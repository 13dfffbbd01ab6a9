package store

// MergeUser merges patch into the "user" sub-document of an analysis
// document, in place on a copy. Nil patch values are ignored: supplying nil
// never clears an existing field. Every other analysis key is untouched.
// The returned map is a fresh top-level map so callers can write it back
// without aliasing the input.
func MergeUser(analysis, patch map[string]any) map[string]any {
	out := make(map[string]any, len(analysis)+1)
	for k, v := range analysis {
		out[k] = v
	}

	user := make(map[string]any)
	if existing, ok := out["user"].(map[string]any); ok {
		for k, v := range existing {
			user[k] = v
		}
	}
	for k, v := range patch {
		if v == nil {
			continue
		}
		user[k] = v
	}
	out["user"] = user
	return out
}
