package model

// Edge collection names. ArangoDB stores each relationship kind in its own edge collection.
const (
	EdgeHasVulnerability = "has_vulnerability"
	EdgeAffects          = "affects"
	EdgeUsesPackage      = "uses_package"
	EdgeRelatedTo        = "related_to"
)

// Document collection names.
const (
	CollFinding       = "finding"
	CollVulnerability = "vulnerability"
	CollAsset         = "asset"
	CollPackage       = "package"
)

// DocumentCollections lists every vertex collection of the graph.
var DocumentCollections = []string{CollFinding, CollVulnerability, CollAsset, CollPackage}

// EdgeCollections lists every edge collection of the graph.
var EdgeCollections = []string{EdgeHasVulnerability, EdgeAffects, EdgeUsesPackage, EdgeRelatedTo}

// RelatedTo links two findings judged to share a root cause. From always holds the finding with
// the lexicographically smaller id. Endpoints and timestamps are set by the edge upsert, the
// timestamps as RFC 3339 strings.
type RelatedTo struct {
	Key       string `json:"_key,omitempty"`
	From      string `json:"_from,omitempty"`
	To        string `json:"_to,omitempty"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}
