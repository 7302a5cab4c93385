package topology

// requests counts how many times every node was entered, from the outside
// or by another node.
func (g *Graph) requests() map[string]uint64 {
	requests := make(map[string]uint64, len(g.edges))
	for node, in := range g.ingress {
		requests[node] += in.total
	}

	for node, incoming := range g.edges {
		for _, weight := range incoming {
			requests[node] += weight
		}
	}

	return requests
}

// incomingRate sums the ingress rate reaching node along every simple path.
// A call closing a cycle adds nothing.
func (g *Graph) incomingRate(node string, requests map[string]uint64, visiting map[string]bool) float64 {
	rate := 0.0
	if in, ok := g.ingress[node]; ok {
		rate += in.rate.Get()
	}

	visiting[node] = true
	for from, weight := range g.edges[node] {
		if visiting[from] || requests[from] == 0 {
			continue
		}

		prob := float64(weight) / float64(requests[from])
		rate += prob * g.incomingRate(from, requests, visiting)
	}
	delete(visiting, node)

	return rate
}

// IncomingRates returns the estimated request rate arriving at every node.
func (g *Graph) IncomingRates() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	requests := g.requests()
	rates := make(map[string]float64, len(g.edges))
	for node := range g.edges {
		rates[node] = g.incomingRate(node, requests, map[string]bool{})
	}

	return rates
}
