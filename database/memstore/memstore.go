// Package memstore is an in-memory stand-in for the ArangoDB GraphStore used in tests.
//
// It understands the generic upsert statements of package database and rolls a transaction
// back when its function fails. Any other AQL must be registered with Handle.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ortelius/vulngraph/database"
)

// ErrUnsupportedQuery is returned for AQL that has no registered handler.
var ErrUnsupportedQuery = errors.New("memstore: unsupported query")

// Data is the collection name to documents view handed to query handlers.
type Data map[string][]database.Row

// Find returns the documents of coll whose attributes equal every entry in attrs.
func (d Data) Find(coll string, attrs map[string]any) []database.Row {
	var out []database.Row
	for _, doc := range d[coll] {
		if matches(doc, attrs) {
			out = append(out, doc)
		}
	}
	return out
}

// ByID returns the document with the given _id.
func (d Data) ByID(id string) (database.Row, bool) {
	for _, docs := range d {
		for _, doc := range docs {
			if doc["_id"] == id {
				return doc, true
			}
		}
	}
	return nil, false
}

// Handler answers one registered AQL statement.
type Handler func(data Data, bindVars map[string]any) ([]database.Row, error)

// Store keeps the graph in memory. It is safe for concurrent use; transactions are serialized.
type Store struct {
	mu       sync.Mutex
	data     Data
	seq      int
	handlers map[string]Handler
	fail     func(aql string, bindVars map[string]any) error

	Commits int
	Aborts  int
	Queries []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data:     Data{},
		handlers: map[string]Handler{},
	}
}

// Handle registers h for the exact AQL text.
func (s *Store) Handle(aql string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[aql] = h
}

// FailWhen installs a hook consulted before every statement; a non-nil result fails it.
func (s *Store) FailWhen(f func(aql string, bindVars map[string]any) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

// Documents returns a copy of every document in coll ordered by _id.
func (s *Store) Documents(coll string) []database.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]database.Row, 0, len(s.data[coll]))
	for _, doc := range s.data[coll] {
		out = append(out, copyRow(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["_id"]) < fmt.Sprint(out[j]["_id"])
	})
	return out
}

// Find is Data.Find on the current state.
func (s *Store) Find(coll string, attrs map[string]any) []database.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Find(coll, attrs)
}

// Query runs one statement outside a transaction.
func (s *Store) Query(_ context.Context, aql string, bindVars map[string]any) ([]database.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query(aql, bindVars)
}

// Transact runs fn with the store locked and restores the prior state if fn fails.
func (s *Store) Transact(ctx context.Context, _ []string, fn func(ctx context.Context, q database.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	seq := s.seq

	if err := fn(ctx, trx{s}); err != nil {
		s.data = snapshot
		s.seq = seq
		s.Aborts++
		return err
	}
	s.Commits++
	return nil
}

type trx struct{ s *Store }

func (t trx) Query(_ context.Context, aql string, bindVars map[string]any) ([]database.Row, error) {
	return t.s.query(aql, bindVars)
}

func (s *Store) query(aql string, bindVars map[string]any) ([]database.Row, error) {
	s.Queries = append(s.Queries, aql)

	if s.fail != nil {
		if err := s.fail(aql, bindVars); err != nil {
			return nil, err
		}
	}

	switch aql {
	case database.UpsertNodeAQL:
		return s.upsertNode(bindVars)
	case database.UpsertEdgeAQL:
		return s.upsertEdge(bindVars)
	}

	if h, ok := s.handlers[aql]; ok {
		return h(s.data, bindVars)
	}
	return nil, ErrUnsupportedQuery
}

func (s *Store) upsertNode(bindVars map[string]any) ([]database.Row, error) {
	coll, _ := bindVars["@coll"].(string)
	match, _ := bindVars["match"].(map[string]any)
	doc, _ := bindVars["doc"].(map[string]any)
	if coll == "" || len(match) == 0 {
		return nil, fmt.Errorf("memstore: upsert needs @coll and match")
	}

	for i, existing := range s.data[coll] {
		if matches(existing, match) {
			merged := merge(existing, doc)
			s.data[coll][i] = merged
			return []database.Row{{"_id": merged["_id"]}}, nil
		}
	}

	inserted := s.insert(coll, doc)
	return []database.Row{{"_id": inserted["_id"]}}, nil
}

func (s *Store) upsertEdge(bindVars map[string]any) ([]database.Row, error) {
	coll, _ := bindVars["@coll"].(string)
	from, _ := bindVars["from"].(string)
	to, _ := bindVars["to"].(string)
	doc, _ := bindVars["doc"].(map[string]any)
	now := bindVars["now"]
	if coll == "" || from == "" || to == "" {
		return nil, fmt.Errorf("memstore: edge upsert needs @coll, from and to")
	}

	endpoints := map[string]any{"_from": from, "_to": to}
	for i, existing := range s.data[coll] {
		if matches(existing, endpoints) {
			merged := merge(existing, doc)
			merged["updated_at"] = now
			s.data[coll][i] = merged
			return []database.Row{{"_id": merged["_id"]}}, nil
		}
	}

	edge := merge(doc, endpoints)
	edge["created_at"] = now
	inserted := s.insert(coll, edge)
	return []database.Row{{"_id": inserted["_id"]}}, nil
}

func (s *Store) insert(coll string, doc map[string]any) database.Row {
	s.seq++
	row := copyRow(doc)
	row["_key"] = fmt.Sprintf("%d", s.seq)
	row["_id"] = fmt.Sprintf("%s/%d", coll, s.seq)
	s.data[coll] = append(s.data[coll], row)
	return row
}

func (s *Store) snapshot() Data {
	out := make(Data, len(s.data))
	for coll, docs := range s.data {
		out[coll] = append([]database.Row(nil), docs...)
	}
	return out
}

func matches(doc database.Row, attrs map[string]any) bool {
	for k, v := range attrs {
		if !reflect.DeepEqual(doc[k], v) {
			return false
		}
	}
	return true
}

// merge returns a new row holding base overwritten by patch.
func merge(base, patch map[string]any) database.Row {
	out := copyRow(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func copyRow(r map[string]any) database.Row {
	out := make(database.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
