package stereogram

// ReconstructRow fills links with, for every column, the column inside the
// seed region [0, minPx) whose pattern color it repeats.
//
// The scan is strictly left to right: a column at or beyond minPx copies the
// link of column x+offset-minPx. That column is already resolved whenever
// maxPx < 2*minPx. Each slot is zeroed before it is resolved, so a target
// equal to x reads 0, and a target right of x is never read and also gives 0.
// With minPx == 0 every link is 0.
//
// links and depth must have the same length.
func ReconstructRow(links []int, depth []float32, minPx, maxPx int) {
	if minPx <= 0 {
		clear(links)
		return
	}
	for x := range links {
		o := offsetColumns(float64(depth[x]), minPx, maxPx)
		links[x] = 0
		if x < minPx {
			links[x] = (x + o) % minPx
			continue
		}
		if t := x + o - minPx; t <= x {
			links[x] = links[t]
		}
	}
}
