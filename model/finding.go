// Package model - defines the node, edge and input record structs stored in the vulnerability graph.
package model

// Finding is a single observation emitted by a scanner run.
type Finding struct {
	Key       string `json:"_key,omitempty"`
	ID        string `json:"id"`
	Scanner   string `json:"scanner"`
	ScanID    string `json:"scan_id"`
	Timestamp string `json:"timestamp"`
	ObjType   string `json:"objtype,omitempty"`
}

// NewFinding is the contructor that sets the appropriate default values
func NewFinding() *Finding {
	return &Finding{
		ObjType: "Finding",
	}
}

// Vulnerability is a weakness class shared by many findings, keyed by its CWE identifier.
type Vulnerability struct {
	Key           string `json:"_key,omitempty"`
	CweID         string `json:"cwe_id"`
	OwaspID       string `json:"owasp_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Severity      string `json:"severity"`
	SeverityScore int    `json:"severity_score"`
	Vector        string `json:"vector"`
	ObjType       string `json:"objtype,omitempty"`
}

// NewVulnerability is the contructor that sets the appropriate default values
func NewVulnerability() *Vulnerability {
	return &Vulnerability{
		ObjType: "Vulnerability",
	}
}

// Asset is the thing a finding was observed on: a URL, a file path or a container image.
type Asset struct {
	Key      string `json:"_key,omitempty"`
	Location string `json:"location"`
	Type     string `json:"type"`
	Service  string `json:"service"`
	URL      string `json:"url"`
	Path     string `json:"path"`
	Image    string `json:"image"`
	ObjType  string `json:"objtype,omitempty"`
}

// NewAsset is the contructor that sets the appropriate default values
func NewAsset() *Asset {
	return &Asset{
		ObjType: "Asset",
	}
}
