package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/ortelius/vulngraph/database"
	"github.com/ortelius/vulngraph/database/memstore"
	"github.com/ortelius/vulngraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sqliRecord(id string) model.FindingRecord {
	return model.FindingRecord{
		FindingID: id,
		Scanner:   "zap",
		ScanID:    "scan-1",
		Timestamp: "2024-05-01T10:00:00Z",
		Vulnerability: model.VulnerabilityInput{
			CweID:       "CWE-89",
			OwaspID:     "A03:2021",
			Title:       "SQL Injection",
			Description: "User input reaches a SQL statement",
			Severity:    "high",
			Vector:      "network/input/sql",
		},
		Asset: model.AssetInput{
			Type:    "web",
			URL:     "https://shop.example/login",
			Service: "shop-frontend",
		},
	}
}

func withPackage(rec model.FindingRecord, name, version string) model.FindingRecord {
	rec.Package = &model.PackageInput{Name: name, Version: version, Ecosystem: "npm"}
	return rec
}

func TestIngestCreatesNodesAndEdges(t *testing.T) {
	store := memstore.New()
	engine := New(store, zap.NewNop())

	report := engine.Ingest(context.Background(), []model.FindingRecord{
		withPackage(sqliRecord("F-1"), "sequelize", "6.3.5"),
	})

	require.True(t, report.OK(), "%+v", report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.NotEmpty(t, report.RunID)

	findings := store.Documents(model.CollFinding)
	require.Len(t, findings, 1)
	assert.Equal(t, "zap", findings[0]["scanner"])
	assert.Equal(t, "2024-05-01T10:00:00Z", findings[0]["timestamp"])

	vulns := store.Documents(model.CollVulnerability)
	require.Len(t, vulns, 1)
	assert.Equal(t, "HIGH", vulns[0]["severity"])
	assert.Equal(t, 7, vulns[0]["severity_score"])
	assert.Equal(t, "network/input/sql", vulns[0]["vector"])

	assets := store.Documents(model.CollAsset)
	require.Len(t, assets, 1)
	assert.Equal(t, "https://shop.example/login", assets[0]["location"])

	pkgs := store.Documents(model.CollPackage)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "pkg:npm/sequelize@6.3.5", pkgs[0]["purl"])
	assert.Equal(t, 6, pkgs[0]["version_major"])

	for _, edge := range []string{model.EdgeHasVulnerability, model.EdgeAffects, model.EdgeUsesPackage} {
		edges := store.Documents(edge)
		require.Len(t, edges, 1, edge)
		assert.Equal(t, findings[0]["_id"], edges[0]["_from"], edge)
	}
	assert.Equal(t, vulns[0]["_id"], store.Documents(model.EdgeHasVulnerability)[0]["_to"])
	assert.Equal(t, assets[0]["_id"], store.Documents(model.EdgeAffects)[0]["_to"])
}

func TestIngestStoresModelDocuments(t *testing.T) {
	store := memstore.New()
	report := New(store, zap.NewNop()).Ingest(context.Background(), []model.FindingRecord{
		withPackage(sqliRecord("F-1"), "left-pad", "latest"),
	})
	require.True(t, report.OK(), "%+v", report.Failed)

	var finding model.Finding
	require.NoError(t, database.FromDoc(store.Documents(model.CollFinding)[0], &finding))
	assert.Equal(t, "F-1", finding.ID)
	assert.Equal(t, "scan-1", finding.ScanID)
	assert.Equal(t, "Finding", finding.ObjType)
	assert.NotEmpty(t, finding.Key)

	var vuln model.Vulnerability
	require.NoError(t, database.FromDoc(store.Documents(model.CollVulnerability)[0], &vuln))
	assert.Equal(t, "A03:2021", vuln.OwaspID)
	assert.Equal(t, 7, vuln.SeverityScore)
	assert.Equal(t, "Vulnerability", vuln.ObjType)

	var asset model.Asset
	require.NoError(t, database.FromDoc(store.Documents(model.CollAsset)[0], &asset))
	assert.Equal(t, "shop-frontend", asset.Service)
	assert.Equal(t, "Asset", asset.ObjType)

	pkgDoc := store.Documents(model.CollPackage)[0]
	assert.NotContains(t, pkgDoc, "version_major", "non-semver versions carry no numeric parts")
	var pkg model.Package
	require.NoError(t, database.FromDoc(pkgDoc, &pkg))
	assert.Equal(t, "npm", pkg.Ecosystem)
	assert.Equal(t, "Package", pkg.ObjType)
	assert.Nil(t, pkg.VersionMajor)
}

func TestIngestIsIdempotent(t *testing.T) {
	store := memstore.New()
	engine := New(store, zap.NewNop())
	ctx := context.Background()

	first := withPackage(sqliRecord("F-1"), "sequelize", "6.3.5")
	require.True(t, engine.Ingest(ctx, []model.FindingRecord{first}).OK())

	second := first
	second.Scanner = "semgrep"
	second.Vulnerability.Title = "SQL Injection (updated)"
	second.Asset.Service = "shop-api"
	require.True(t, engine.Ingest(ctx, []model.FindingRecord{second}).OK())

	for _, coll := range append(append([]string{}, model.DocumentCollections...), model.EdgeHasVulnerability, model.EdgeAffects, model.EdgeUsesPackage) {
		assert.Len(t, store.Documents(coll), 1, coll)
	}
	assert.Empty(t, store.Documents(model.EdgeRelatedTo))

	assert.Equal(t, "semgrep", store.Documents(model.CollFinding)[0]["scanner"])
	assert.Equal(t, "SQL Injection (updated)", store.Documents(model.CollVulnerability)[0]["title"])
	assert.Equal(t, "shop-api", store.Documents(model.CollAsset)[0]["service"])
}

func TestIngestSharesVulnerabilityAcrossFindings(t *testing.T) {
	store := memstore.New()
	engine := New(store, zap.NewNop())

	other := sqliRecord("F-2")
	other.Asset = model.AssetInput{Type: "repo", Path: "/srv/shop/db.py"}

	report := engine.Ingest(context.Background(), []model.FindingRecord{sqliRecord("F-1"), other})
	require.True(t, report.OK())

	assert.Len(t, store.Documents(model.CollFinding), 2)
	assert.Len(t, store.Documents(model.CollVulnerability), 1)
	assert.Len(t, store.Documents(model.CollAsset), 2)
	assert.Len(t, store.Documents(model.EdgeHasVulnerability), 2)
	assert.Len(t, store.Find(model.CollAsset, map[string]any{"location": "/srv/shop/db.py"}), 1)
}

func TestIngestWithoutPackage(t *testing.T) {
	store := memstore.New()
	engine := New(store, zap.NewNop())

	report := engine.Ingest(context.Background(), []model.FindingRecord{sqliRecord("F-1")})
	require.True(t, report.OK())

	assert.Empty(t, store.Documents(model.CollPackage))
	assert.Empty(t, store.Documents(model.EdgeUsesPackage))
}

func TestIngestPartialBatchResilience(t *testing.T) {
	store := memstore.New()
	boom := errors.New("write conflict")
	store.FailWhen(func(aql string, bindVars map[string]any) error {
		// fail the second record after its finding node was already written
		if aql == database.UpsertNodeAQL && bindVars["@coll"] == model.CollAsset {
			if doc, _ := bindVars["doc"].(map[string]any); doc["location"] == "https://bad.example" {
				return boom
			}
		}
		return nil
	})

	core, logs := observer.New(zapcore.WarnLevel)
	engine := New(store, zap.New(core))

	bad := sqliRecord("F-2")
	bad.Asset.URL = "https://bad.example"

	report := engine.Ingest(context.Background(), []model.FindingRecord{
		sqliRecord("F-1"),
		bad,
		withPackage(sqliRecord("F-3"), "pg", "8.7.1"),
	})

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 1, report.Failed[0].Index)
	assert.Equal(t, "F-2", report.Failed[0].FindingID)
	assert.ErrorIs(t, report.Failed[0].Err, boom)

	ids := []any{}
	for _, f := range store.Documents(model.CollFinding) {
		ids = append(ids, f["id"])
	}
	assert.ElementsMatch(t, []any{"F-1", "F-3"}, ids, "partial writes of F-2 must be rolled back")
	assert.Len(t, store.Documents(model.EdgeHasVulnerability), 2)
	assert.Len(t, store.Documents(model.EdgeUsesPackage), 1)
	assert.Equal(t, 1, store.Aborts)

	require.Equal(t, 1, logs.FilterMessage("Finding record not ingested").Len())
	assert.Equal(t, "F-2", logs.FilterMessage("Finding record not ingested").All()[0].ContextMap()["finding_id"])
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	store := memstore.New()
	engine := New(store, zap.NewNop())

	noAsset := sqliRecord("F-2")
	noAsset.Asset = model.AssetInput{Type: "web"}
	noCwe := sqliRecord("F-3")
	noCwe.Vulnerability.CweID = ""

	report := engine.Ingest(context.Background(), []model.FindingRecord{
		{FindingID: ""},
		noAsset,
		noCwe,
		sqliRecord("F-4"),
	})

	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Failed, 3)
	for _, f := range report.Failed {
		assert.ErrorIs(t, f.Err, ErrInvalidRecord)
	}
	assert.Contains(t, report.Failed[1].Error, "asset.url|path|image")
	assert.Equal(t, 0, store.Aborts, "invalid records never open a transaction")
}

func TestIngestStopsOnCancelledContext(t *testing.T) {
	store := memstore.New()
	engine := New(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := engine.Ingest(ctx, []model.FindingRecord{sqliRecord("F-1"), sqliRecord("F-2")})
	assert.Equal(t, 0, report.Succeeded)
	require.Len(t, report.Failed, 2)
	assert.ErrorIs(t, report.Failed[0].Err, context.Canceled)
	assert.Empty(t, store.Documents(model.CollFinding))
}
