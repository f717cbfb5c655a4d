package synthetic

// 2D simplex noise, values in [-1, 1].

var grad2 = [8][2]float64{
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
}

type simplex struct {
	perm [512]uint8
}

// newSimplex shuffles the permutation table with a seeded LCG so equal
// seeds give equal terrain.
func newSimplex(seed int64) *simplex {
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}

	s := uint64(seed)
	for i := 255; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int((s >> 33) % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}

	n := &simplex{}
	for i := range n.perm {
		n.perm[i] = p[i&255]
	}
	return n
}

func (n *simplex) at(x, y float64) float64 {
	const (
		f2 = 0.36602540378443864676 // (sqrt(3) - 1) / 2
		g2 = 0.21132486540518711775 // (3 - sqrt(3)) / 6
	)

	s := (x + y) * f2
	i := floor(x + s)
	j := floor(y + s)
	t := float64(i+j) * g2
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}

	x1 := x0 - float64(i1) + g2
	y1 := y0 - float64(j1) + g2
	x2 := x0 - 1 + 2*g2
	y2 := y0 - 1 + 2*g2

	ii, jj := i&255, j&255
	corners := [3]struct {
		x, y float64
		g    int
	}{
		{x0, y0, n.gradient(ii, jj)},
		{x1, y1, n.gradient(ii+i1, jj+j1)},
		{x2, y2, n.gradient(ii+1, jj+1)},
	}

	var sum float64
	for _, c := range corners {
		t := 0.5 - c.x*c.x - c.y*c.y
		if t < 0 {
			continue
		}
		t *= t
		sum += t * t * (grad2[c.g][0]*c.x + grad2[c.g][1]*c.y)
	}
	return 70 * sum
}

func (n *simplex) gradient(i, j int) int {
	return int(n.perm[i+int(n.perm[j])]) & 7
}

// octaves sums successively finer layers, normalized back into [-1, 1].
func (n *simplex) octaves(x, y float64, count int, persistence float64) float64 {
	var total, norm float64
	freq, amp := 1.0, 1.0
	for range count {
		total += n.at(x*freq, y*freq) * amp
		norm += amp
		amp *= persistence
		freq *= 2
	}
	return total / norm
}

func floor(x float64) int {
	xi := int(x)
	if x < float64(xi) {
		return xi - 1
	}
	return xi
}
