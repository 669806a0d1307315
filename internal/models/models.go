package models

import "github.com/vincentbai/formshot-agent/internal/snapshot"

type Shot struct {
	Time int64             `json:"time"` // unix ms, capture time and store key
	URL  string            `json:"url"`
	Data snapshot.Snapshot `json:"data"`
}

// ShotSummary is a stored shot as listed for a page.
type ShotSummary struct {
	Time       int64  `json:"time"`
	URL        string `json:"url"`
	Origin     string `json:"origin"`
	Signature  string `json:"signature"`
	FieldCount int    `json:"field_count"`
	Age        string `json:"age,omitempty"`
}

const (
	MetaGet      = "get"
	MetaSet      = "set"
	MetaOK       = "ok"
	MetaBadMeta  = "bad-meta"
	MetaDeclined = "declined"
	MetaError    = "error"
	MetaNoTarget = "no-target"
)

// Message is one request or response between a caller and the agent bound to
// a document. Value carries a serialized snapshot for get responses and set
// requests, or an error text.
type Message struct {
	Meta  string  `json:"meta"`
	Value *string `json:"value,omitempty"` // nullable
}

type Target struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // page | file
	URL  string `json:"url"`
}
