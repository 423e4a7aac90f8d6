package model

import "strings"

// FindingRecord is one element of an ingestion batch as produced by a scanner export.
type FindingRecord struct {
	FindingID     string             `json:"finding_id" yaml:"finding_id"`
	Scanner       string             `json:"scanner" yaml:"scanner"`
	ScanID        string             `json:"scan_id" yaml:"scan_id"`
	Timestamp     string             `json:"timestamp" yaml:"timestamp"`
	Vulnerability VulnerabilityInput `json:"vulnerability" yaml:"vulnerability"`
	Asset         AssetInput         `json:"asset" yaml:"asset"`
	Package       *PackageInput      `json:"package,omitempty" yaml:"package,omitempty"`
}

// VulnerabilityInput is the vulnerability portion of a FindingRecord
type VulnerabilityInput struct {
	CweID       string `json:"cwe_id" yaml:"cwe_id"`
	OwaspID     string `json:"owasp_id" yaml:"owasp_id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Severity    string `json:"severity" yaml:"severity"`
	Vector      string `json:"vector" yaml:"vector"`
}

// AssetInput is the asset portion of a FindingRecord. At least one of URL, Path or Image is expected.
type AssetInput struct {
	Type    string `json:"type" yaml:"type"`
	URL     string `json:"url" yaml:"url"`
	Path    string `json:"path" yaml:"path"`
	Image   string `json:"image" yaml:"image"`
	Service string `json:"service" yaml:"service"`
}

// PackageInput is the optional package portion of a FindingRecord
type PackageInput struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Ecosystem string `json:"ecosystem,omitempty" yaml:"ecosystem,omitempty"`
}

// Location resolves the asset identity: url, else path, else image.
func (a AssetInput) Location() string {
	for _, v := range []string{a.URL, a.Path, a.Image} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
