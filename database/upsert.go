package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertNodeAQL inserts @doc into @@coll when no document matches @match, otherwise merges @doc
// into the existing document. Attribute values are last-write-wins.
const UpsertNodeAQL = `
	UPSERT @match
	INSERT @doc
	UPDATE @doc
	IN @@coll
	RETURN { _id: NEW._id }
`

// UpsertEdgeAQL creates the edge @from -> @to in @@coll unless it already exists, in which case
// only @doc is merged in. Endpoints are the edge identity.
const UpsertEdgeAQL = `
	UPSERT { _from: @from, _to: @to }
	INSERT MERGE(@doc, { _from: @from, _to: @to, created_at: @now })
	UPDATE MERGE(@doc, { updated_at: @now })
	IN @@coll
	RETURN { _id: NEW._id }
`

// UpsertNode runs UpsertNodeAQL and returns the document handle of the node.
func UpsertNode(ctx context.Context, q Querier, coll string, match, doc map[string]any) (string, error) {
	rows, err := q.Query(ctx, UpsertNodeAQL, map[string]any{
		"@coll": coll,
		"match": match,
		"doc":   doc,
	})
	if err != nil {
		return "", fmt.Errorf("upserting %s: %w", coll, err)
	}
	return handleFrom(rows, coll)
}

// UpsertEdge runs UpsertEdgeAQL and returns the edge handle.
func UpsertEdge(ctx context.Context, q Querier, coll, from, to string, doc map[string]any) (string, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	rows, err := q.Query(ctx, UpsertEdgeAQL, map[string]any{
		"@coll": coll,
		"from":  from,
		"to":    to,
		"doc":   doc,
		"now":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("upserting %s edge: %w", coll, err)
	}
	return handleFrom(rows, coll)
}

func handleFrom(rows []Row, coll string) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("upsert into %s returned no document", coll)
	}
	id, _ := rows[0]["_id"].(string)
	if id == "" {
		return "", fmt.Errorf("upsert into %s returned no _id", coll)
	}
	return id, nil
}

// ToDoc turns a json-tagged model struct into the document map bound into an upsert.
// Whole numbers come back as int.
func ToDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	for k, val := range doc {
		doc[k] = plainNumbers(val)
	}
	return doc, nil
}

// FromDoc decodes a result row into a json-tagged struct.
func FromDoc(row Row, v any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

func plainNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, elem := range val {
			val[k] = plainNumbers(elem)
		}
	case []any:
		for i, elem := range val {
			val[i] = plainNumbers(elem)
		}
	}
	return v
}
