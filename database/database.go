// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/vulngraph/config"
	"github.com/ortelius/vulngraph/model"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a GraphStore is used before Connect succeeded.
var ErrNotConnected = errors.New("database not connected")

// Row is one decoded AQL result document.
type Row = map[string]any

// Querier runs AQL. Both a GraphStore and an open transaction satisfy it.
type Querier interface {
	Query(ctx context.Context, aql string, bindVars map[string]any) ([]Row, error)
}

// GraphStore is the connected database together with its graph collections
type GraphStore struct {
	Database    arangodb.Database
	Collections map[string]arangodb.Collection
	logger      *zap.Logger
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxFields  []string
	Unique     bool
}

// graphIndexes are the indexes backing upsert-by-key and candidate selection.
// Unique indexes make a duplicate node or edge a write error instead of silent duplication.
func graphIndexes() []indexConfig {
	idx := []indexConfig{
		{Collection: model.CollFinding, IdxName: "finding_id", IdxFields: []string{"id"}, Unique: true},
		{Collection: model.CollVulnerability, IdxName: "vulnerability_cwe", IdxFields: []string{"cwe_id"}, Unique: true},
		{Collection: model.CollVulnerability, IdxName: "vulnerability_vector", IdxFields: []string{"vector"}},
		{Collection: model.CollAsset, IdxName: "asset_location", IdxFields: []string{"location"}, Unique: true},
		{Collection: model.CollPackage, IdxName: "package_name_version", IdxFields: []string{"name", "version"}, Unique: true},
		{Collection: model.CollPackage, IdxName: "package_purl", IdxFields: []string{"purl"}},
	}
	for _, edge := range model.EdgeCollections {
		idx = append(idx, indexConfig{
			Collection: edge,
			IdxName:    edge + "_endpoints",
			IdxFields:  []string{"_from", "_to"},
			Unique:     true,
		})
	}
	return idx
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Connect opens the database engine with exponential backoff, then creates the database,
// the vertex and edge collections, and their indexes when missing.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*GraphStore, error) {
	const initialInterval = 2 * time.Second
	const maxInterval = 2 * time.Minute

	logger = logger.Named("database")
	dburl := cfg.Endpoint()

	var client arangodb.Client

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = cfg.ConnectTimeout // 0 retries indefinitely

	err := backoff.RetryNotify(func() error {
		logger.Info("Attempting to connect to ArangoDB", zap.String("url", dburl))
		endpoint := connection.NewRoundRobinEndpoints([]string{dburl})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Password))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Info("Connected to ArangoDB", versionFields(versionInfo)...)
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("Retrying connection to ArangoDB", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", dburl, err)
	}

	db, err := openDatabase(ctx, client, cfg.Name)
	if err != nil {
		return nil, err
	}

	store := &GraphStore{
		Database:    db,
		Collections: make(map[string]arangodb.Collection),
		logger:      logger,
	}

	for _, name := range model.DocumentCollections {
		if err := store.ensureCollection(ctx, name, false); err != nil {
			return nil, err
		}
	}
	for _, name := range model.EdgeCollections {
		if err := store.ensureCollection(ctx, name, true); err != nil {
			return nil, err
		}
	}
	if err := store.ensureIndexes(ctx, graphIndexes()); err != nil {
		return nil, err
	}

	return store, nil
}

func versionFields(info arangodb.VersionInfo) []zap.Field {
	return []zap.Field{
		zap.String("version", string(info.Version)),
		zap.String("license", info.License),
	}
}

func openDatabase(ctx context.Context, client arangodb.Client, name string) (arangodb.Database, error) {
	exists, err := client.DatabaseExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking database %s: %w", name, err)
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		db, err := client.GetDatabase(ctx, name, &options)
		if err != nil {
			return nil, fmt.Errorf("getting database %s: %w", name, err)
		}
		return db, nil
	}

	db, err := client.CreateDatabase(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("creating database %s: %w", name, err)
	}
	return db, nil
}

func (s *GraphStore) ensureCollection(ctx context.Context, name string, edge bool) error {
	exists, err := s.Database.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	var col arangodb.Collection
	if exists {
		var options arangodb.GetCollectionOptions
		col, err = s.Database.GetCollection(ctx, name, &options)
	} else {
		var props *arangodb.CreateCollectionPropertiesV2
		if edge {
			edgeType := arangodb.CollectionTypeEdge
			props = &arangodb.CreateCollectionPropertiesV2{Type: &edgeType}
		}
		col, err = s.Database.CreateCollectionV2(ctx, name, props)
		if err == nil {
			s.logger.Info("Created collection", zap.String("collection", name), zap.Bool("edge", edge))
		}
	}
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", name, err)
	}

	s.Collections[name] = col
	return nil
}

func (s *GraphStore) ensureIndexes(ctx context.Context, idxList []indexConfig) error {
	sparse := false

	for _, idx := range idxList {
		col, ok := s.Collections[idx.Collection]
		if !ok {
			return fmt.Errorf("index %s references unknown collection %s", idx.IdxName, idx.Collection)
		}

		found := false
		if indexes, err := col.Indexes(ctx); err == nil {
			for _, index := range indexes {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}
		if found {
			continue
		}

		unique := idx.Unique
		indexOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &unique,
			Sparse: &sparse,
			Name:   idx.IdxName,
		}
		if _, _, err := col.EnsurePersistentIndex(ctx, idx.IdxFields, &indexOptions); err != nil {
			return fmt.Errorf("creating index %s: %w", idx.IdxName, err)
		}
	}
	return nil
}

// Query runs a single AQL statement outside of an explicit transaction.
func (s *GraphStore) Query(ctx context.Context, aql string, bindVars map[string]any) ([]Row, error) {
	if s == nil || s.Database == nil {
		return nil, ErrNotConnected
	}
	return runQuery(ctx, s.Database, aql, bindVars)
}

// Transact runs fn inside one stream transaction that may write the listed collections.
// The transaction commits when fn returns nil and aborts otherwise, so a failing unit of work
// leaves no partial writes behind.
func (s *GraphStore) Transact(ctx context.Context, write []string, fn func(ctx context.Context, q Querier) error) error {
	if s == nil || s.Database == nil {
		return ErrNotConnected
	}

	trx, err := s.Database.BeginTransaction(ctx, arangodb.TransactionCollections{Write: write}, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(ctx, &trxQuerier{trx: trx}); err != nil {
		// the context may already be cancelled, abort on a fresh one so the server releases locks
		abortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if abortErr := trx.Abort(abortCtx, nil); abortErr != nil {
			s.logger.Error("Failed to abort transaction", zap.Error(abortErr))
		}
		return err
	}

	if err := trx.Commit(ctx, nil); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type trxQuerier struct {
	trx arangodb.Transaction
}

func (t *trxQuerier) Query(ctx context.Context, aql string, bindVars map[string]any) ([]Row, error) {
	return runQuery(ctx, t.trx, aql, bindVars)
}

func runQuery(ctx context.Context, q arangodb.DatabaseQuery, aql string, bindVars map[string]any) ([]Row, error) {
	cursor, err := q.Query(ctx, aql, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var rows []Row
	for cursor.HasMore() {
		var row Row
		if _, err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
