// Package util provides helper functions shared by the ingestion, enrichment and CLI code.
package util

import (
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/package-url/packageurl-go"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// IsNotEmpty checks if a string is not empty
func IsNotEmpty(s string) bool {
	return !IsEmpty(s)
}

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// FirstNonEmpty returns the first value that is not blank
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if IsNotEmpty(v) {
			return v
		}
	}
	return ""
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// CleanPURL removes qualifiers (after ?) and subpath (after #) to create canonical PURL
func CleanPURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	cleaned := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
		Version:   parsed.Version,
	}

	return strings.ToLower(cleaned.ToString()), nil
}

// BuildPURL derives a canonical package URL from a scanner's package name, version and ecosystem.
// Names carrying a namespace ("org.apache.logging.log4j:log4j-core", "@babel/core",
// "github.com/gin-gonic/gin") are split on the last separator. A name that is already a purl is
// only cleaned.
func BuildPURL(name, version, ecosystem string) (string, error) {
	if strings.HasPrefix(name, "pkg:") {
		return CleanPURL(name)
	}

	purlType := EcosystemToPurlType(ecosystem)
	if purlType == "" {
		purlType = packageurl.TypeGeneric
	}

	namespace := ""
	base := name
	if idx := strings.LastIndexAny(name, "/:"); idx > 0 && idx < len(name)-1 {
		namespace = name[:idx]
		base = name[idx+1:]
	}

	purl := packageurl.NewPackageURL(purlType, namespace, base, version, nil, "")
	return CleanPURL(purl.ToString())
}

// EcosystemToPurlType converts an ecosystem label to a PURL type. Unknown labels return ""
func EcosystemToPurlType(ecosystem string) string {
	mapping := map[string]string{
		"npm":       "npm",
		"PyPI":      "pypi",
		"pypi":      "pypi",
		"Maven":     "maven",
		"maven":     "maven",
		"Go":        "golang",
		"go":        "golang",
		"NuGet":     "nuget",
		"RubyGems":  "gem",
		"crates.io": "cargo",
		"Packagist": "composer",
		"Pub":       "pub",
		"CocoaPods": "cocoapods",
		"Hex":       "hex",
		"Alpine":    "alpine",
		"Debian":    "deb",
		"Ubuntu":    "deb",
	}
	return mapping[ecosystem]
}

// ParseSemanticVersion splits a version into numeric parts for indexed range queries.
// All three are nil when the version is not semver-like.
func ParseSemanticVersion(version string) (major, minor, patch *int) {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if err != nil {
		return nil, nil, nil
	}

	maj := int(v.Major())
	mnr := int(v.Minor())
	pat := int(v.Patch())
	return &maj, &mnr, &pat
}
