package vector

import (
	"context"

	"github.com/adrag/adrag/internal/index"
)

// IndexMirror adapts a Repository to the index builder's Mirror seam,
// copying every built row into the remote store.
type IndexMirror struct {
	Repo Repository
}

func (m *IndexMirror) EnsureCollection(ctx context.Context, dim int) error {
	return m.Repo.EnsureCollection(ctx, dim)
}

func (m *IndexMirror) UpsertRows(ctx context.Context, rows []index.Row, vectors [][]float32) error {
	points := make([]Point, len(rows))
	for i, row := range rows {
		points[i] = Point{RowID: row.RowID, Vector: vectors[i], PMCID: row.PMCID}
	}
	return m.Repo.Upsert(ctx, points)
}

var _ index.Mirror = (*IndexMirror)(nil)
