package hub

// DefaultSpoolLengthMM is assumed when neither the status nor the config
// payload reports the roll length.
const DefaultSpoolLengthMM = 50_000

// UsageDelta is the derived spool consumption between two status frames.
type UsageDelta struct {
	DeltaEdges     float64
	DeltaMM        float64
	TotalUsedEdges float64
}

// DeriveSpoolUsage computes the consumption delta between the previous and
// current spool state. It returns nil when no meaningful delta can be
// derived: missing geometry, a first-ever frame, no forward movement, or an
// implausible jump (e.g. a re-threaded roll) larger than the roll itself.
func DeriveSpoolUsage(previous, current, config map[string]any) *UsageDelta {
	if len(current) == 0 {
		return nil
	}

	fullEdges := resolveNumeric([]map[string]any{current, config}, "full_edges")
	if fullEdges == nil || *fullEdges <= 0 {
		return nil
	}

	totalLength := resolveNumeric([]map[string]any{current, config}, "total_length_mm", "length_mm")
	if totalLength == nil {
		fallback := float64(DefaultSpoolLengthMM)
		totalLength = &fallback
	}
	if *totalLength <= 0 {
		return nil
	}

	mmPerEdge := *totalLength / *fullEdges

	currentUsed := resolveUsedEdges(current, *fullEdges)
	if currentUsed == nil {
		return nil
	}
	previousUsed := resolveUsedEdges(previous, *fullEdges)
	if previousUsed == nil {
		return nil
	}

	deltaEdges := *currentUsed - *previousUsed
	if deltaEdges <= 0 {
		return nil
	}
	deltaMM := deltaEdges * mmPerEdge
	if deltaMM > *totalLength {
		return nil
	}

	return &UsageDelta{
		DeltaEdges:     deltaEdges,
		DeltaMM:        deltaMM,
		TotalUsedEdges: *currentUsed,
	}
}

// resolveNumeric returns the first numeric value found for any of the keys,
// checking sources in order. JSON numbers decode as float64; booleans are
// never numeric here.
func resolveNumeric(sources []map[string]any, keys ...string) *float64 {
	for _, source := range sources {
		if source == nil {
			continue
		}
		for _, key := range keys {
			if value, ok := asNumber(source[key]); ok {
				return &value
			}
		}
	}
	return nil
}

// resolveUsedEdges reads used edges directly, or derives them from the
// remaining count when only that is reported.
func resolveUsedEdges(spool map[string]any, fullEdges float64) *float64 {
	if len(spool) == 0 {
		return nil
	}
	if used, ok := asNumber(spool["used_edges"]); ok {
		return &used
	}
	if remaining, ok := asNumber(spool["remaining_edges"]); ok && fullEdges > 0 {
		used := fullEdges - remaining
		if used < 0 {
			used = 0
		}
		return &used
	}
	return nil
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
