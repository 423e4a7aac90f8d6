package model

// Package represents a third-party dependency referenced by a finding.
// Identity is the (name, version) pair; purl and the numeric version parts are derived on write.
type Package struct {
	Key          string `json:"_key,omitempty"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Purl         string `json:"purl,omitempty"`
	Ecosystem    string `json:"ecosystem"`
	VersionMajor *int   `json:"version_major,omitempty"`
	VersionMinor *int   `json:"version_minor,omitempty"`
	VersionPatch *int   `json:"version_patch,omitempty"`
	ObjType      string `json:"objtype"`
}

// NewPackage creates a new Package instance
func NewPackage() *Package {
	return &Package{
		ObjType: "Package",
	}
}
