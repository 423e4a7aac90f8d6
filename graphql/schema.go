// Package graphql provides the GraphQL schema definition and resolvers
package graphql

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/vulngraph/database"
)

var db database.Querier

// InitDB initializes the global database connection variable used by all resolvers.
func InitDB(q database.Querier) {
	db = q
}

// findingView expands a finding document f with its neighbours.
const findingView = `
		LET vulnerability = FIRST(FOR v IN 1..1 OUTBOUND f has_vulnerability RETURN v)
		LET asset = FIRST(FOR a IN 1..1 OUTBOUND f affects RETURN a)
		LET package = FIRST(FOR p IN 1..1 OUTBOUND f uses_package RETURN p)
		LET related = (
			FOR o, e IN 1..1 ANY f related_to
				SORT o.id
				RETURN { id: o.id, reason: e.reason, direction: e._from == f._id ? "outbound" : "inbound" }
		)
		RETURN MERGE(f, { vulnerability, asset, package, related })
`

// FindingsAQL lists findings by id.
const FindingsAQL = `
	FOR f IN finding
		SORT f.id
		LIMIT @limit` + findingView

// FindingAQL loads one finding by id.
const FindingAQL = `
	FOR f IN finding
		FILTER f.id == @id
		LIMIT 1` + findingView

// RelatedPairsAQL lists related_to edges as finding id pairs.
const RelatedPairsAQL = `
	FOR e IN related_to
		LET a = DOCUMENT(e._from)
		LET b = DOCUMENT(e._to)
		SORT a.id, b.id
		LIMIT @limit
		RETURN { id1: a.id, id2: b.id, reason: e.reason, updated_at: e.updated_at }
`

// SeverityType defines the GraphQL enum for normalized severities
var SeverityType = graphql.NewEnum(graphql.EnumConfig{
	Name: "Severity",
	Values: graphql.EnumValueConfigMap{
		"CRITICAL": &graphql.EnumValueConfig{Value: "CRITICAL"},
		"HIGH":     &graphql.EnumValueConfig{Value: "HIGH"},
		"MEDIUM":   &graphql.EnumValueConfig{Value: "MEDIUM"},
		"LOW":      &graphql.EnumValueConfig{Value: "LOW"},
		"INFO":     &graphql.EnumValueConfig{Value: "INFO"},
		"UNKNOWN":  &graphql.EnumValueConfig{Value: "UNKNOWN"},
	},
})

// VulnerabilityType defines the GraphQL object for weakness classes
var VulnerabilityType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Vulnerability",
	Fields: graphql.Fields{
		"cwe_id":         &graphql.Field{Type: graphql.String},
		"owasp_id":       &graphql.Field{Type: graphql.String},
		"title":          &graphql.Field{Type: graphql.String},
		"description":    &graphql.Field{Type: graphql.String},
		"severity":       &graphql.Field{Type: SeverityType},
		"severity_score": &graphql.Field{Type: graphql.Int},
		"vector":         &graphql.Field{Type: graphql.String},
	},
})

// AssetType defines the GraphQL object for affected targets
var AssetType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Asset",
	Fields: graphql.Fields{
		"location": &graphql.Field{Type: graphql.String},
		"type":     &graphql.Field{Type: graphql.String},
		"service":  &graphql.Field{Type: graphql.String},
		"url":      &graphql.Field{Type: graphql.String},
		"path":     &graphql.Field{Type: graphql.String},
		"image":    &graphql.Field{Type: graphql.String},
	},
})

// PackageType defines the GraphQL object for dependencies reported by a finding
var PackageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Package",
	Fields: graphql.Fields{
		"name":      &graphql.Field{Type: graphql.String},
		"version":   &graphql.Field{Type: graphql.String},
		"purl":      &graphql.Field{Type: graphql.String},
		"ecosystem": &graphql.Field{Type: graphql.String},
	},
})

// RelatedFindingType is the other end of a related_to edge, seen from one finding
var RelatedFindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RelatedFinding",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.String},
		"reason":    &graphql.Field{Type: graphql.String},
		"direction": &graphql.Field{Type: graphql.String},
	},
})

// FindingType defines the GraphQL object for scanner findings and their neighbours
var FindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Finding",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.String},
		"scanner":       &graphql.Field{Type: graphql.String},
		"scan_id":       &graphql.Field{Type: graphql.String},
		"timestamp":     &graphql.Field{Type: graphql.String},
		"vulnerability": &graphql.Field{Type: VulnerabilityType},
		"asset":         &graphql.Field{Type: AssetType},
		"package":       &graphql.Field{Type: PackageType},
		"related":       &graphql.Field{Type: graphql.NewList(RelatedFindingType)},
	},
})

// RelatedPairType defines the GraphQL object for one related_to edge
var RelatedPairType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RelatedPair",
	Fields: graphql.Fields{
		"id1":        &graphql.Field{Type: graphql.String},
		"id2":        &graphql.Field{Type: graphql.String},
		"reason":     &graphql.Field{Type: graphql.String},
		"updated_at": &graphql.Field{Type: graphql.String},
	},
})

func resolveContext(p graphql.ResolveParams) context.Context {
	if p.Context != nil {
		return p.Context
	}
	return context.Background()
}

func resolveRows(p graphql.ResolveParams, aql string, bindVars map[string]interface{}) ([]database.Row, error) {
	if db == nil {
		return nil, database.ErrNotConnected
	}
	return db.Query(resolveContext(p), aql, bindVars)
}

// CreateSchema generates and returns the configured GraphQL schema for the API.
func CreateSchema() (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"finding": &graphql.Field{
				Type: FindingType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					rows, err := resolveRows(p, FindingAQL, map[string]interface{}{"id": id})
					if err != nil {
						return nil, err
					}
					if len(rows) == 0 {
						return nil, nil
					}
					return rows[0], nil
				},
			},
			"findings": &graphql.Field{
				Type: graphql.NewList(FindingType),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					limit := p.Args["limit"].(int)
					return resolveRows(p, FindingsAQL, map[string]interface{}{"limit": limit})
				},
			},
			"relatedPairs": &graphql.Field{
				Type: graphql.NewList(RelatedPairType),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					limit := p.Args["limit"].(int)
					return resolveRows(p, RelatedPairsAQL, map[string]interface{}{"limit": limit})
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
