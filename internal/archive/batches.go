package archive

import (
	"github.com/duke-git/lancet/v2/slice"

	"kickdl/internal/model"
)

// Batches splits items in order into groups of at most size entries.
func Batches(items []model.Item, size int) [][]model.Item {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	return slice.Chunk(items, size)
}
