package stereogram

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

func TestReconstructRowHandSimulated(t *testing.T) {
	tests := []struct {
		name   string
		depth  []float32
		minPx  int
		maxPx  int
		expect []int
	}{
		{
			// offsets 0,0,2,2,0,0,2,2; at x=2,3,6,7 the target is x itself,
			// which was just zeroed
			name:   "8x1 min 2 max 4",
			depth:  []float32{0, 0, 1, 1, 0, 0, 1, 1},
			minPx:  2,
			maxPx:  4,
			expect: []int{0, 1, 0, 0, 0, 0, 0, 0},
		},
		{
			name:   "8x1 min 3 max 5 half depth bump",
			depth:  []float32{0, 0, 0, 0.5, 0.5, 0, 0, 0},
			minPx:  3,
			maxPx:  5,
			expect: []int{0, 1, 2, 1, 2, 2, 1, 2},
		},
		{
			name:   "seed region wraps",
			depth:  []float32{1, 1, 1},
			minPx:  3,
			maxPx:  5,
			expect: []int{2, 0, 1},
		},
		{
			name:   "flat depth tiles with period min",
			depth:  []float32{0, 0, 0, 0, 0, 0, 0},
			minPx:  3,
			maxPx:  6,
			expect: []int{0, 1, 2, 0, 1, 2, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := make([]int, len(tt.depth))
			ReconstructRow(links, tt.depth, tt.minPx, tt.maxPx)
			if !reflect.DeepEqual(links, tt.expect) {
				t.Errorf("ReconstructRow() = %v; want %v", links, tt.expect)
			}
		})
	}
}

func randomRow(r *rand.Rand, n int) []float32 {
	row := make([]float32, n)
	for i := range row {
		row[i] = r.Float32()
	}
	return row
}

func TestReconstructRowLinksStayInSeedRegion(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		width := 1 + r.IntN(300)
		minPx := 1 + r.IntN(width)
		maxPx := minPx + r.IntN(minPx)
		depth := randomRow(r, width)
		links := make([]int, width)
		ReconstructRow(links, depth, minPx, maxPx)
		for x, l := range links {
			if l < 0 || l >= minPx {
				t.Fatalf("width=%d min=%d max=%d: links[%d] = %d; want in [0,%d)", width, minPx, maxPx, x, l, minPx)
			}
		}
	}
}

func TestReconstructRowReadsOnlyResolvedColumns(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 200; i++ {
		width := 2 + r.IntN(300)
		minPx := 1 + r.IntN(width-1)
		// Include maxPx >= 2*minPx so targets reach x and beyond.
		maxPx := minPx + r.IntN(2*minPx+1)
		depth := randomRow(r, width)
		links := make([]int, width)
		for x := range links {
			links[x] = -1
		}
		ReconstructRow(links, depth, minPx, maxPx)

		for x := minPx; x < width; x++ {
			o := offsetColumns(float64(depth[x]), minPx, maxPx)
			target := x + o - minPx
			if target < 0 {
				t.Fatalf("column %d links to negative column %d", x, target)
			}
			if target >= x {
				if links[x] != 0 {
					t.Fatalf("links[%d] = %d; want 0 for target %d", x, links[x], target)
				}
				continue
			}
			if links[x] != links[target] {
				t.Fatalf("links[%d] = %d; want links[%d] = %d", x, links[x], target, links[target])
			}
		}
		for x, l := range links {
			if l == -1 {
				t.Fatalf("column %d never written", x)
			}
		}
	}
}

func TestReconstructRowNonFiniteDepth(t *testing.T) {
	tests := []struct {
		name  string
		depth []float32
	}{
		{"positive infinity", []float32{0, 0, 0, float32(math.Inf(1)), 0, 0}},
		{"negative infinity", []float32{0, 0, 0, float32(math.Inf(-1)), 0, 0}},
		{"nan", []float32{0, 0, float32(math.NaN()), 0, 0, 0}},
		{"huge", []float32{0, 0, 0, 1e30, 0, 0}},
		{"huge in seed region", []float32{1e30, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := make([]int, len(tt.depth))
			ReconstructRow(links, tt.depth, 2, 4)
			for x, l := range links {
				if l < 0 || l >= 2 {
					t.Errorf("links[%d] = %d; want in [0,2)", x, l)
				}
			}
		})
	}
}

func TestOffsetColumnsClamps(t *testing.T) {
	tests := []struct {
		d            float64
		minPx, maxPx int
		want         int
	}{
		{0.5, 2, 6, 2},
		{-3, 2, 6, 0},
		{math.NaN(), 2, 6, 0},
		{math.Inf(1), 2, 6, 5},
		{1e300, 2, 6, 5},
		{1, 6, 2, 0},
	}
	for _, tt := range tests {
		if got := offsetColumns(tt.d, tt.minPx, tt.maxPx); got != tt.want {
			t.Errorf("offsetColumns(%v, %d, %d) = %d; want %d", tt.d, tt.minPx, tt.maxPx, got, tt.want)
		}
	}
}

func TestReconstructRowZeroMinDisparity(t *testing.T) {
	depth := []float32{0.2, 0.9, 1, 0, 0.5}
	links := []int{7, 7, 7, 7, 7}
	ReconstructRow(links, depth, 0, 4)
	for x, l := range links {
		if l != 0 {
			t.Errorf("links[%d] = %d; want 0", x, l)
		}
	}
}

func TestReconstructRowEqualDisparitiesIsPassthrough(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	depth := randomRow(r, 64)
	links := make([]int, len(depth))
	ReconstructRow(links, depth, 5, 5)
	for x, l := range links {
		if l != x%5 {
			t.Errorf("links[%d] = %d; want %d", x, l, x%5)
		}
	}
}

func TestReconstructRowConstantDepthPeriod(t *testing.T) {
	// A constant offset o shortens the repeat to minPx-o columns.
	depth := make([]float32, 40)
	for i := range depth {
		depth[i] = 0.5
	}
	links := make([]int, len(depth))
	ReconstructRow(links, depth, 8, 12)
	period := 8 - 2
	for x := 8; x < len(links); x++ {
		if links[x] != links[x-period] {
			t.Errorf("links[%d] = %d; want links[%d] = %d", x, links[x], x-period, links[x-period])
		}
	}
}

func TestDisparity(t *testing.T) {
	tests := []struct {
		d            float64
		minPx, maxPx int
		expected     float64
	}{
		{0, 10, 20, 0},
		{1, 10, 20, 10},
		{0.5, 10, 20, 5},
		{0.25, 4, 4, 0},
	}
	for _, tt := range tests {
		if got := Disparity(tt.d, tt.minPx, tt.maxPx); got != tt.expected {
			t.Errorf("Disparity(%v, %d, %d) = %v; want %v", tt.d, tt.minPx, tt.maxPx, got, tt.expected)
		}
	}
}

func TestFractionsToParams(t *testing.T) {
	tests := []struct {
		name     string
		f        Fractions
		width    int
		min, max int
	}{
		{"defaults", DefaultFractions(), 100, 15, 20},
		{"separation doubles", Fractions{MinDisparity: 0.15, MaxDisparity: 0.2, Separation: 2}, 100, 30, 40},
		{"clamped to width", Fractions{MinDisparity: 0.8, MaxDisparity: 0.9, Separation: 2}, 50, 50, 50},
		{"negative clamps to zero", Fractions{MinDisparity: -0.1, MaxDisparity: 0.1, Separation: 1}, 100, 0, 10},
		{"zero width", DefaultFractions(), 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.f.ToParams(tt.width, Seed{})
			if p.MinPx != tt.min || p.MaxPx != tt.max {
				t.Errorf("ToParams() = (%d, %d); want (%d, %d)", p.MinPx, p.MaxPx, tt.min, tt.max)
			}
		})
	}
}
