package model

import "fmt"

// ValueKind is the declared datatype of a target property
type ValueKind int

const (
	KindUnsupported  ValueKind = iota // Datatype the harvester has no parser for
	KindItem                          // wikibase-item: reference to another entity
	KindString                        // string
	KindExternalID                    // external-id
	KindURL                           // url
	KindCommonsMedia                  // commonsMedia: file on the shared media repository
)

// KindFromDatatype maps a Wikibase datatype name to a ValueKind
func KindFromDatatype(datatype string) ValueKind {
	switch datatype {
	case "wikibase-item":
		return KindItem
	case "string":
		return KindString
	case "external-id":
		return KindExternalID
	case "url":
		return KindURL
	case "commonsMedia":
		return KindCommonsMedia
	default:
		return KindUnsupported
	}
}

func (k ValueKind) String() string {
	switch k {
	case KindItem:
		return "wikibase-item"
	case KindString:
		return "string"
	case KindExternalID:
		return "external-id"
	case KindURL:
		return "url"
	case KindCommonsMedia:
		return "commonsMedia"
	default:
		return "unsupported"
	}
}

// Value is a typed claim value. Item is set for KindItem, Text for every other kind.
type Value struct {
	Kind ValueKind `json:"kind"`
	Item string    `json:"item,omitempty"` // Entity id, e.g. "Q5"
	Text string    `json:"text,omitempty"` // String, identifier, URL or file name
}

// ItemValue builds an entity reference value
func ItemValue(id string) Value {
	return Value{Kind: KindItem, Item: id}
}

// TextValue builds a value of a string-like kind
func TextValue(kind ValueKind, text string) Value {
	return Value{Kind: kind, Text: text}
}

func (v Value) String() string {
	if v.Kind == KindItem {
		return v.Item
	}
	return v.Text
}

// PageRef identifies a page on a wiki
type PageRef struct {
	Site  string `json:"site"` // Database name, e.g. "nlwiki"
	Title string `json:"title"`
}

func (p PageRef) String() string {
	return fmt.Sprintf("[[%s:%s]]", p.Site, p.Title)
}

// Claim is a proposed statement harvested from a template field
type Claim struct {
	Property string  `json:"property"`
	Value    Value   `json:"value"`
	Source   PageRef `json:"source"`
	Field    string  `json:"field,omitempty"` // Template parameter the value came from
}
