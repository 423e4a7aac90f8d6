package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ortelius/vulngraph/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertNodeMergesByMatch(t *testing.T) {
	s := New()
	ctx := context.Background()

	id1, err := database.UpsertNode(ctx, s, "asset", map[string]any{"location": "/a"}, map[string]any{"location": "/a", "type": "file"})
	require.NoError(t, err)
	id2, err := database.UpsertNode(ctx, s, "asset", map[string]any{"location": "/a"}, map[string]any{"location": "/a", "service": "api"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	docs := s.Documents("asset")
	require.Len(t, docs, 1)
	assert.Equal(t, "file", docs[0]["type"])
	assert.Equal(t, "api", docs[0]["service"])
}

func TestUpsertEdgeByEndpoints(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := database.UpsertEdge(ctx, s, "related_to", "finding/1", "finding/2", map[string]any{"reason": "first"})
	require.NoError(t, err)
	_, err = database.UpsertEdge(ctx, s, "related_to", "finding/1", "finding/2", map[string]any{"reason": "second"})
	require.NoError(t, err)
	_, err = database.UpsertEdge(ctx, s, "related_to", "finding/2", "finding/1", nil)
	require.NoError(t, err)

	edges := s.Documents("related_to")
	require.Len(t, edges, 2, "direction is part of the edge identity")
	assert.Equal(t, "second", edges[0]["reason"])
	assert.NotNil(t, edges[0]["created_at"])
	assert.NotNil(t, edges[0]["updated_at"])
}

func TestTransactRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := database.UpsertNode(ctx, s, "finding", map[string]any{"id": "F-1"}, map[string]any{"id": "F-1", "scanner": "zap"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Transact(ctx, []string{"finding"}, func(ctx context.Context, q database.Querier) error {
		if _, err := database.UpsertNode(ctx, q, "finding", map[string]any{"id": "F-1"}, map[string]any{"id": "F-1", "scanner": "semgrep"}); err != nil {
			return err
		}
		if _, err := database.UpsertNode(ctx, q, "finding", map[string]any{"id": "F-2"}, map[string]any{"id": "F-2"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.Aborts)

	docs := s.Documents("finding")
	require.Len(t, docs, 1)
	assert.Equal(t, "zap", docs[0]["scanner"])

	id, err := database.UpsertNode(ctx, s, "finding", map[string]any{"id": "F-3"}, map[string]any{"id": "F-3"})
	require.NoError(t, err)
	assert.Equal(t, "finding/2", id, "sequence is restored with the data")
}

func TestUnsupportedQueryAndFailHook(t *testing.T) {
	s := New()
	_, err := s.Query(context.Background(), "FOR x IN y RETURN x", nil)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)

	s.Handle("RETURN 1", func(Data, map[string]any) ([]database.Row, error) {
		return []database.Row{{"v": 1}}, nil
	})
	rows, err := s.Query(context.Background(), "RETURN 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rows[0]["v"])

	s.FailWhen(func(aql string, _ map[string]any) error { return errors.New("down") })
	_, err = s.Query(context.Background(), "RETURN 1", nil)
	assert.EqualError(t, err, "down")
}
