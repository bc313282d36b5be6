package sink

// MergeFields deep-merges src into dst and returns dst. Maps merge
// recursively; any other value (arrays included) overwrites wholesale.
func MergeFields(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = map[string]interface{}{}
	}
	for k, v := range src {
		sv, srcIsMap := v.(map[string]interface{})
		dv, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = MergeFields(dv, sv)
			continue
		}
		if srcIsMap {
			// Copy so later merges never alias the caller's map.
			dst[k] = MergeFields(map[string]interface{}{}, sv)
			continue
		}
		dst[k] = v
	}
	return dst
}
