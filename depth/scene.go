package depth

import (
	"context"
	"image"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/namuol/magic-eye-mirror/stereogram"
)

// Brick wall layout, in world units. The camera sits at z=1 looking down -z.
const (
	sceneFovY      = 75 * math.Pi / 180
	sceneFar       = 1.5
	sceneCameraZ   = 1.0
	sceneWallZ     = -0.5
	sceneGap       = 0.03
	sceneBricksX   = 5
	sceneBricksY   = 5
	sceneBricksZ   = 4
	sceneCubeSize  = 0.2
	sceneNoiseAmpl = 0.1
)

type box struct {
	min, max [3]float64
}

func boxAt(center, size [3]float64) box {
	var b box
	for i := range center {
		b.min[i] = center[i] - size[i]/2
		b.max[i] = center[i] + size[i]/2
	}
	return b
}

// intersect returns the ray parameter of the nearest hit in front of the
// origin, using the slab method.
func (b box) intersect(o, d [3]float64) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < b.min[i] || o[i] > b.max[i] {
				return 0, false
			}
			continue
		}
		t1 := (b.min[i] - o[i]) / d[i]
		t2 := (b.max[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
	}
	if tmax < tmin || tmax <= 0 {
		return 0, false
	}
	if tmin > 0 {
		return tmin, true
	}
	return tmax, true
}

// SceneEstimator renders a synthetic scene of randomly present bricks in
// front of a back wall, plus a cube at the origin. It ignores camera frames,
// so the stereogram pipeline can run with no capture device at all.
type SceneEstimator struct {
	width, height int
	boxes         []box

	mu    sync.Mutex
	cache *Map
}

// NewSceneEstimator lays out the bricks with a deterministic random source.
func NewSceneEstimator(width, height int, seed uint64) *SceneEstimator {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	const wallW, wallH, depthSpan = 1.0, 1.0, 0.5
	bw := (wallW - (sceneBricksX+1)*sceneGap) / sceneBricksX
	bh := (wallH - (sceneBricksY+1)*sceneGap) / sceneBricksY
	bd := (depthSpan - (sceneBricksZ+1)*sceneGap) / sceneBricksZ
	left, bottom := -wallW/2, -wallH/2

	s := &SceneEstimator{width: width, height: height}
	s.boxes = append(s.boxes, boxAt([3]float64{}, [3]float64{sceneCubeSize, sceneCubeSize, sceneCubeSize}))
	for x := 0; x < sceneBricksX; x++ {
		for y := 0; y < sceneBricksY; y++ {
			for z := 0; z < sceneBricksZ; z++ {
				if r.Float64() < 0.5 {
					continue
				}
				center := [3]float64{
					left + bw/2 + sceneGap + (bw+sceneGap)*float64(x),
					bottom + bh/2 + sceneGap + (bh+sceneGap)*float64(y),
					sceneWallZ + bd/2 + sceneGap + (bd+sceneGap)*float64(z),
				}
				s.boxes = append(s.boxes, boxAt(center, [3]float64{bw, bh, bd}))
			}
		}
	}
	return s
}

// Bricks reports how many boxes the scene holds, the cube included.
func (s *SceneEstimator) Bricks() int { return len(s.boxes) }

// Estimate returns the scene depth. The frame is ignored. The scene is
// static, so the map is rendered once and shared.
func (s *SceneEstimator) Estimate(ctx context.Context, _ image.Image) (*Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}
	m, err := s.render(ctx)
	if err != nil {
		return nil, err
	}
	s.cache = m
	return m, nil
}

func (s *SceneEstimator) render(ctx context.Context) (*Map, error) {
	m := NewMap(s.width, s.height)
	if s.width == 0 || s.height == 0 {
		return m, nil
	}
	aspect := float64(s.width) / float64(s.height)
	tanHalf := math.Tan(sceneFovY / 2)
	origin := [3]float64{0, 0, sceneCameraZ}

	for py := 0; py < s.height; py++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := m.Row(s.height - 1 - py)
		for px := range row {
			dir := [3]float64{
				(2*(float64(px)+0.5)/float64(s.width) - 1) * aspect * tanHalf,
				(1 - 2*(float64(py)+0.5)/float64(s.height)) * tanHalf,
				-1,
			}
			best := math.Inf(1)
			for _, b := range s.boxes {
				if t, ok := b.intersect(origin, dir); ok && t < best {
					best = t
				}
			}
			if math.IsInf(best, 1) {
				continue
			}
			dist := best * math.Sqrt(dir[0]*dir[0]+dir[1]*dir[1]+dir[2]*dir[2])
			u := float64(px) / float64(s.width)
			v := float64(py) / float64(s.height)
			d := 1 - dist/sceneFar + (stereogram.Hash(u, v)-0.5)*sceneNoiseAmpl
			row[px] = float32(math.Max(0, math.Min(1, d)))
		}
	}
	return m, nil
}

// Close is a no-op.
func (s *SceneEstimator) Close() error { return nil }
