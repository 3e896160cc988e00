package dataset

import "fmt"

// FoldAssignment designates the disjoint train/validation/test partitions of
// the five dataset regions used by one cross-validation fold.
type FoldAssignment struct {
	Train []int
	Val   []int
	Test  []int
}

// foldSequence is the fixed five-fold rotation over dataset regions 1-5.
// It is pure data and must never be mutated; accessors return copies.
var foldSequence = [5]FoldAssignment{
	{Train: []int{1, 2, 3}, Val: []int{4}, Test: []int{5}},
	{Train: []int{2, 3, 4}, Val: []int{5}, Test: []int{1}},
	{Train: []int{3, 4, 5}, Val: []int{1}, Test: []int{2}},
	{Train: []int{4, 5, 1}, Val: []int{2}, Test: []int{3}},
	{Train: []int{5, 1, 2}, Val: []int{3}, Test: []int{4}},
}

// NumFolds is the number of cross-validation folds.
const NumFolds = len(foldSequence)

// FoldSequence returns a copy of the full fold rotation.
func FoldSequence() []FoldAssignment {
	out := make([]FoldAssignment, NumFolds)
	for i := range foldSequence {
		out[i] = copyAssignment(foldSequence[i])
	}
	return out
}

// Assignment returns the partition of a single 1-based fold.
func Assignment(fold int) (FoldAssignment, error) {
	if fold < 1 || fold > NumFolds {
		return FoldAssignment{}, fmt.Errorf("fold %d out of range [1, %d]", fold, NumFolds)
	}
	return copyAssignment(foldSequence[fold-1]), nil
}

func copyAssignment(a FoldAssignment) FoldAssignment {
	return FoldAssignment{
		Train: append([]int(nil), a.Train...),
		Val:   append([]int(nil), a.Val...),
		Test:  append([]int(nil), a.Test...),
	}
}
