package domain

import "fmt"

type SourceKind string

const (
	SourceKindFeed    SourceKind = "feed"
	SourceKindMailbox SourceKind = "mailbox"
)

// RenderPolicy selects how entries of a source are turned into messages.
type RenderPolicy string

const (
	PolicyFull      RenderPolicy = "full"
	PolicyTitleOnly RenderPolicy = "title_only"
	PolicyMerge     RenderPolicy = "merge"
)

func ParseRenderPolicy(s string) (RenderPolicy, error) {
	switch p := RenderPolicy(s); p {
	case PolicyFull, PolicyTitleOnly, PolicyMerge:
		return p, nil
	}
	return "", fmt.Errorf("unknown render policy %q", s)
}

// Source is an immutable description of one upstream and where its entries go.
// ID doubles as the sync state partition key.
type Source struct {
	ID             string
	Name           string
	Kind           SourceKind
	URL            string
	Policy         RenderPolicy
	MergeThreshold int
	Recipients     []string
	Channel        string
	Translate      bool
	DisablePreview bool
	Header         string
	PageSize       int
}
