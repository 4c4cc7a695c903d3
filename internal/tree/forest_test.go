package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//	1
//	├── 2
//	│   ├── 4
//	│   └── 5
//	│       └── 7
//	└── 3
//	    └── 6
func sample() *Forest {
	return Build([]Edge{
		{ID: 5, Parent: 2},
		{ID: 1, Parent: 0},
		{ID: 2, Parent: 1},
		{ID: 3, Parent: 1},
		{ID: 4, Parent: 2},
		{ID: 6, Parent: 3},
		{ID: 7, Parent: 5},
	})
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestForest_PostOrder(t *testing.T) {
	f := sample()

	order, err := f.PostOrder(1)
	require.NoError(t, err)
	assert.Len(t, order, 7)
	assert.Equal(t, int64(1), order[len(order)-1], "root goes last")

	parents := map[int64]int64{2: 1, 3: 1, 4: 2, 5: 2, 6: 3, 7: 5}
	for child, parent := range parents {
		assert.Less(t, indexOf(order, child), indexOf(order, parent),
			"%d must come before its parent %d", child, parent)
	}
}

func TestForest_PostOrderSubtree(t *testing.T) {
	f := sample()

	order, err := f.PostOrder(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 4, 5, 7}, order)
	assert.Equal(t, int64(2), order[3])
}

func TestForest_DepthAndHeight(t *testing.T) {
	f := sample()

	tests := []struct {
		id         int64
		wantDepth  int
		wantHeight int
	}{
		{id: 1, wantDepth: 0, wantHeight: 3},
		{id: 2, wantDepth: 1, wantHeight: 2},
		{id: 7, wantDepth: 3, wantHeight: 0},
		{id: 6, wantDepth: 2, wantHeight: 0},
	}

	for _, tt := range tests {
		d, err := f.Depth(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.wantDepth, d, "depth of %d", tt.id)

		h, err := f.Height(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.wantHeight, h, "height of %d", tt.id)
	}
}

func TestForest_Children(t *testing.T) {
	f := sample()

	kids, err := f.Children(2)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, kids, "load order is kept")

	_, err = f.Children(99)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestForest_CycleDoesNotLoop(t *testing.T) {
	f := Build([]Edge{{ID: 1, Parent: 2}, {ID: 2, Parent: 1}})

	order, err := f.PostOrder(1)
	require.NoError(t, err)
	assert.Len(t, order, 2)

	_, err = f.Depth(1)
	assert.NoError(t, err)
}
