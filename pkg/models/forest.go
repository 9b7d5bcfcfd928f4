package models

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// ForestConfig controls FitForest.
type ForestConfig struct {
	Trees          int    `json:"trees"`
	Seed           uint64 `json:"seed"`
	MinSamplesLeaf int    `json:"min_samples_leaf"`
	// MaxDepth of 0 grows trees until leaves are pure.
	MaxDepth int `json:"max_depth"`
}

// Node is a flattened regression tree node. Left < 0 marks a leaf.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a bagged ensemble of regression trees.
type Forest struct {
	Trees []Tree `json:"trees"`
}

// FitForest grows cfg.Trees trees, each on a bootstrap sample of the rows
// drawn from a generator seeded by (cfg.Seed, tree index). Every split
// considers all features and minimises the summed squared error.
func FitForest(ctx context.Context, x [][]float64, y []float64, cfg ForestConfig) (*Forest, error) {
	if len(x) == 0 {
		return nil, errors.New("forest: no training rows")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("forest: %d rows but %d targets", len(x), len(y))
	}
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("forest: trees must be >= 1, got %d", cfg.Trees)
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}

	forest := &Forest{Trees: make([]Tree, cfg.Trees)}
	n := len(x)
	for i := range cfg.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
		sample := make([]int, n)
		for j := range sample {
			sample[j] = rng.IntN(n)
		}
		b := &treeBuilder{x: x, y: y, cfg: cfg}
		b.grow(sample, 0)
		forest.Trees[i] = Tree{Nodes: b.nodes}
	}
	return forest, nil
}

// Predict averages the trees' predictions for one feature vector.
func (f *Forest) Predict(features []float64) float64 {
	if len(f.Trees) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(features)
	}
	return sum / float64(len(f.Trees))
}

// Predict walks the tree to a leaf.
func (t Tree) Predict(features []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Left < 0 {
			return node.Value
		}
		if features[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

type treeBuilder struct {
	x     [][]float64
	y     []float64
	cfg   ForestConfig
	nodes []Node
}

type split struct {
	feature   int
	threshold float64
	sse       float64
	at        int
	order     []int
}

// grow appends the subtree for rows and returns its node index.
func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Value: b.mean(rows)})

	if len(rows) < 2*b.cfg.MinSamplesLeaf {
		return idx
	}
	if b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth {
		return idx
	}

	parent := b.sse(rows)
	if parent <= 1e-12 {
		return idx
	}

	best, ok := b.bestSplit(rows)
	if !ok || best.sse >= parent-1e-12*math.Max(1, parent) {
		return idx
	}

	left := b.grow(best.order[:best.at], depth+1)
	right := b.grow(best.order[best.at:], depth+1)
	b.nodes[idx] = Node{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      left,
		Right:     right,
		Value:     b.nodes[idx].Value,
	}
	return idx
}

// bestSplit scans every feature with prefix sums over the rows sorted by that
// feature. Thresholds sit midway between distinct neighbouring values.
func (b *treeBuilder) bestSplit(rows []int) (split, bool) {
	n := len(rows)
	minLeaf := b.cfg.MinSamplesLeaf
	best := split{sse: math.Inf(1)}
	found := false

	order := make([]int, n)
	for f := range b.x[rows[0]] {
		copy(order, rows)
		slices.SortStableFunc(order, func(i, j int) int {
			return cmp.Compare(b.x[i][f], b.x[j][f])
		})

		var totalSum, totalSq float64
		for _, r := range order {
			totalSum += b.y[r]
			totalSq += b.y[r] * b.y[r]
		}

		var leftSum, leftSq float64
		for i := 0; i < n-1; i++ {
			v := b.y[order[i]]
			leftSum += v
			leftSq += v * v

			nl := i + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			lo, hi := b.x[order[i]][f], b.x[order[i+1]][f]
			if lo == hi {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if sse < best.sse {
				best = split{
					feature:   f,
					threshold: lo + (hi-lo)/2,
					sse:       sse,
					at:        nl,
				}
				found = true
			}
		}
	}

	if !found {
		return best, false
	}

	// Re-sort on the winning feature so the caller can partition.
	best.order = append([]int(nil), rows...)
	slices.SortStableFunc(best.order, func(i, j int) int {
		return cmp.Compare(b.x[i][best.feature], b.x[j][best.feature])
	})
	return best, true
}

func (b *treeBuilder) mean(rows []int) float64 {
	var sum float64
	for _, r := range rows {
		sum += b.y[r]
	}
	return sum / float64(len(rows))
}

func (b *treeBuilder) sse(rows []int) float64 {
	m := b.mean(rows)
	var sse float64
	for _, r := range rows {
		d := b.y[r] - m
		sse += d * d
	}
	return sse
}
