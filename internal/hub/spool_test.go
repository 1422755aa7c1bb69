package hub

import (
	"math"
	"testing"
)

func TestDeriveSpoolUsage(t *testing.T) {
	tests := []struct {
		name     string
		previous map[string]any
		current  map[string]any
		config   map[string]any
		want     *UsageDelta
	}{
		{
			name:     "forward movement from used_edges",
			previous: map[string]any{"used_edges": float64(10), "full_edges": float64(100)},
			current:  map[string]any{"used_edges": float64(12), "full_edges": float64(100), "total_length_mm": float64(50000)},
			want:     &UsageDelta{DeltaEdges: 2, DeltaMM: 1000, TotalUsedEdges: 12},
		},
		{
			name:     "derived from remaining_edges",
			previous: map[string]any{"remaining_edges": float64(90), "full_edges": float64(100)},
			current:  map[string]any{"remaining_edges": float64(85), "full_edges": float64(100), "total_length_mm": float64(50000)},
			want:     &UsageDelta{DeltaEdges: 5, DeltaMM: 2500, TotalUsedEdges: 15},
		},
		{
			name:     "length from config when status omits it",
			previous: map[string]any{"used_edges": float64(0)},
			current:  map[string]any{"used_edges": float64(4)},
			config:   map[string]any{"full_edges": float64(200), "length_mm": float64(40000)},
			want:     &UsageDelta{DeltaEdges: 4, DeltaMM: 800, TotalUsedEdges: 4},
		},
		{
			name:     "default roll length when nothing reports one",
			previous: map[string]any{"used_edges": float64(0), "full_edges": float64(100)},
			current:  map[string]any{"used_edges": float64(1), "full_edges": float64(100)},
			want:     &UsageDelta{DeltaEdges: 1, DeltaMM: 500, TotalUsedEdges: 1},
		},
		{
			name:    "first frame has no baseline",
			current: map[string]any{"used_edges": float64(5), "full_edges": float64(100)},
			want:    nil,
		},
		{
			name:     "no forward movement",
			previous: map[string]any{"used_edges": float64(12), "full_edges": float64(100)},
			current:  map[string]any{"used_edges": float64(12), "full_edges": float64(100)},
			want:     nil,
		},
		{
			name:     "backwards movement after re-thread",
			previous: map[string]any{"used_edges": float64(80), "full_edges": float64(100)},
			current:  map[string]any{"used_edges": float64(2), "full_edges": float64(100)},
			want:     nil,
		},
		{
			name:     "jump larger than the roll",
			previous: map[string]any{"used_edges": float64(0), "full_edges": float64(10)},
			current:  map[string]any{"used_edges": float64(11), "full_edges": float64(10), "total_length_mm": float64(50000)},
			want:     nil,
		},
		{
			name:     "missing geometry",
			previous: map[string]any{"used_edges": float64(1)},
			current:  map[string]any{"used_edges": float64(2)},
			want:     nil,
		},
		{
			name:     "zero full edges",
			previous: map[string]any{"used_edges": float64(1), "full_edges": float64(0)},
			current:  map[string]any{"used_edges": float64(2), "full_edges": float64(0)},
			want:     nil,
		},
		{
			name: "empty current spool",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveSpoolUsage(tt.previous, tt.current, tt.config)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("DeriveSpoolUsage() = %+v, want %+v", got, tt.want)
			}
			if got == nil {
				return
			}
			if !closeTo(got.DeltaEdges, tt.want.DeltaEdges) ||
				!closeTo(got.DeltaMM, tt.want.DeltaMM) ||
				!closeTo(got.TotalUsedEdges, tt.want.TotalUsedEdges) {
				t.Fatalf("DeriveSpoolUsage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveUsedEdgesClampsNegative(t *testing.T) {
	spool := map[string]any{"remaining_edges": float64(120)}
	used := resolveUsedEdges(spool, 100)
	if used == nil || *used != 0 {
		t.Fatalf("resolveUsedEdges() = %v, want 0", used)
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
