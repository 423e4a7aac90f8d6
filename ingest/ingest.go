// Package ingest loads scanner finding records into the vulnerability graph.
//
// Every record is written in its own transaction. A record that fails is rolled back and
// reported, and the batch moves on to the next record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/vulngraph/database"
	"github.com/ortelius/vulngraph/model"
	"github.com/ortelius/vulngraph/util"
	"go.uber.org/zap"
)

// ErrInvalidRecord marks a record rejected before any write was attempted.
var ErrInvalidRecord = errors.New("invalid finding record")

// Store is the transactional part of the graph store the engine writes through.
type Store interface {
	Transact(ctx context.Context, write []string, fn func(ctx context.Context, q database.Querier) error) error
}

// RecordFailure describes one record that was not persisted.
type RecordFailure struct {
	Index     int    `json:"index"`
	FindingID string `json:"finding_id"`
	Error     string `json:"error"`
	Err       error  `json:"-"`
}

// Report summarizes one Ingest call.
type Report struct {
	RunID     string          `json:"run_id"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    []RecordFailure `json:"failed"`
	Duration  time.Duration   `json:"duration"`
}

// OK reports whether every record was persisted.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Engine upserts finding records into the graph.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// New creates an ingestion Engine.
func New(store Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.Named("ingest"),
	}
}

// Ingest writes every record and never aborts the batch because of a single record.
// Once ctx is done the remaining records are reported as failed with the context error.
func (e *Engine) Ingest(ctx context.Context, records []model.FindingRecord) Report {
	start := time.Now()
	report := Report{
		RunID:  uuid.NewString(),
		Total:  len(records),
		Failed: []RecordFailure{},
	}
	logger := e.logger.With(zap.String("run_id", report.RunID))

	for i, rec := range records {
		err := ctx.Err()
		if err == nil {
			err = e.ingestRecord(ctx, rec)
		}

		if err != nil {
			report.Failed = append(report.Failed, RecordFailure{
				Index:     i,
				FindingID: rec.FindingID,
				Error:     err.Error(),
				Err:       err,
			})
			logger.Warn("Finding record not ingested",
				zap.Int("index", i),
				zap.String("finding_id", rec.FindingID),
				zap.Error(err))
			continue
		}

		report.Succeeded++
		logger.Debug("Finding record ingested", zap.String("finding_id", rec.FindingID))
	}

	report.Duration = time.Since(start)
	logger.Info("Ingestion finished",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))
	return report
}

// Validate checks the fields that make up node identities.
func Validate(rec model.FindingRecord) error {
	var missing []string
	if util.IsEmpty(rec.FindingID) {
		missing = append(missing, "finding_id")
	}
	if util.IsEmpty(rec.Vulnerability.CweID) {
		missing = append(missing, "vulnerability.cwe_id")
	}
	if rec.Asset.Location() == "" {
		missing = append(missing, "asset.url|path|image")
	}
	if rec.Package != nil && util.IsEmpty(rec.Package.Name) {
		missing = append(missing, "package.name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, strings.Join(missing, ", "))
	}
	return nil
}

func writeSet(rec model.FindingRecord) []string {
	write := []string{
		model.CollFinding, model.CollVulnerability, model.CollAsset,
		model.EdgeHasVulnerability, model.EdgeAffects,
	}
	if rec.Package != nil {
		write = append(write, model.CollPackage, model.EdgeUsesPackage)
	}
	return write
}

func (e *Engine) ingestRecord(ctx context.Context, rec model.FindingRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}

	return e.store.Transact(ctx, writeSet(rec), func(ctx context.Context, q database.Querier) error {
		findingID, err := upsertNode(ctx, q, model.CollFinding,
			map[string]any{"id": rec.FindingID}, findingNode(rec))
		if err != nil {
			return err
		}

		vulnID, err := upsertNode(ctx, q, model.CollVulnerability,
			map[string]any{"cwe_id": rec.Vulnerability.CweID}, vulnerabilityNode(rec.Vulnerability))
		if err != nil {
			return err
		}

		assetID, err := upsertNode(ctx, q, model.CollAsset,
			map[string]any{"location": rec.Asset.Location()}, assetNode(rec.Asset))
		if err != nil {
			return err
		}

		if _, err := database.UpsertEdge(ctx, q, model.EdgeHasVulnerability, findingID, vulnID, nil); err != nil {
			return err
		}
		if _, err := database.UpsertEdge(ctx, q, model.EdgeAffects, findingID, assetID, nil); err != nil {
			return err
		}

		if rec.Package == nil {
			return nil
		}

		pkgID, err := upsertNode(ctx, q, model.CollPackage,
			map[string]any{"name": rec.Package.Name, "version": rec.Package.Version}, e.packageNode(*rec.Package))
		if err != nil {
			return err
		}
		_, err = database.UpsertEdge(ctx, q, model.EdgeUsesPackage, findingID, pkgID, nil)
		return err
	})
}

func findingNode(rec model.FindingRecord) *model.Finding {
	f := model.NewFinding()
	f.ID = rec.FindingID
	f.Scanner = rec.Scanner
	f.ScanID = rec.ScanID
	f.Timestamp = rec.Timestamp
	return f
}

func vulnerabilityNode(v model.VulnerabilityInput) *model.Vulnerability {
	vuln := model.NewVulnerability()
	vuln.CweID = v.CweID
	vuln.OwaspID = v.OwaspID
	vuln.Title = v.Title
	vuln.Description = v.Description
	vuln.Severity = model.NormalizeSeverity(v.Severity)
	vuln.SeverityScore = model.SeverityScore(vuln.Severity)
	vuln.Vector = v.Vector
	return vuln
}

func assetNode(a model.AssetInput) *model.Asset {
	asset := model.NewAsset()
	asset.Location = a.Location()
	asset.Type = a.Type
	asset.Service = a.Service
	asset.URL = a.URL
	asset.Path = a.Path
	asset.Image = a.Image
	return asset
}

// packageNode derives the purl and numeric version parts. A name that cannot be turned into a
// purl is still stored, only without the purl attribute.
func (e *Engine) packageNode(p model.PackageInput) *model.Package {
	pkg := model.NewPackage()
	pkg.Name = p.Name
	pkg.Version = p.Version
	pkg.Ecosystem = p.Ecosystem

	if purl, err := util.BuildPURL(p.Name, p.Version, p.Ecosystem); err == nil {
		pkg.Purl = purl
	} else {
		e.logger.Debug("Package has no purl", zap.String("name", p.Name), zap.Error(err))
	}

	pkg.VersionMajor, pkg.VersionMinor, pkg.VersionPatch = util.ParseSemanticVersion(p.Version)
	return pkg
}

func upsertNode(ctx context.Context, q database.Querier, coll string, match map[string]any, node any) (string, error) {
	doc, err := database.ToDoc(node)
	if err != nil {
		return "", err
	}
	return database.UpsertNode(ctx, q, coll, match, doc)
}
