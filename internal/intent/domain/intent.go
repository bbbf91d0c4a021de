package domain

import (
	"context"
	"strings"
	"time"
)

// Kind is the closed set of intents the dispatcher understands. Raw oracle
// labels are mapped onto it right after the oracle call.
type Kind string

const (
	KindAddToCart      Kind = "add_to_cart"
	KindRemoveFromCart Kind = "remove_from_cart"
	KindUpdateQuantity Kind = "update_quantity"
	KindViewCart       Kind = "view_cart"
	KindSearchProduct  Kind = "search_product"
	KindAskQuestion    Kind = "ask_question"
	KindCheckout       Kind = "checkout"
	KindUnknown        Kind = "unknown"
)

var Kinds = []Kind{
	KindAddToCart,
	KindRemoveFromCart,
	KindUpdateQuantity,
	KindViewCart,
	KindSearchProduct,
	KindAskQuestion,
	KindCheckout,
	KindUnknown,
}

// ParseKind accepts "add_to_cart", "AddToCart" and "add to cart" alike.
func ParseKind(label string) (Kind, bool) {
	key := foldLabel(label)
	for _, k := range Kinds {
		if foldLabel(string(k)) == key {
			return k, true
		}
	}
	return KindUnknown, false
}

func foldLabel(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// MaxQuantity is the largest quantity an utterance may carry. It matches the
// cart's per-line limit.
const MaxQuantity int64 = 10_000

// Entity names used in required-entity declarations.
const (
	EntityProduct  = "product"
	EntityQuantity = "quantity"
	EntityQuery    = "query"
)

// Entities are already coerced to their types. A product reference is free
// text (or an explicit id) and is resolved to a product by the cart flow.
// Invalid lists entities the oracle supplied but that could not be coerced.
type Entities struct {
	ProductName string   `json:"product_name,omitempty"`
	ProductID   string   `json:"product_id,omitempty"`
	Quantity    *int64   `json:"quantity,omitempty"`
	Category    string   `json:"category,omitempty"`
	Query       string   `json:"query,omitempty"`
	Invalid     []string `json:"invalid,omitempty"`
}

func (e Entities) Has(name string) bool {
	switch name {
	case EntityProduct:
		return e.ProductName != "" || e.ProductID != ""
	case EntityQuantity:
		return e.Quantity != nil
	case EntityQuery:
		return e.Query != ""
	}
	return false
}

func (e Entities) IsInvalid(name string) bool {
	for _, n := range e.Invalid {
		if n == name {
			return true
		}
	}
	return false
}

// ProductRef is the text shown back to the user for the product entity.
func (e Entities) ProductRef() string {
	if e.ProductName != "" {
		return e.ProductName
	}
	return e.ProductID
}

// Fallback reasons recorded when an intent is forced to Unknown.
const (
	FallbackClassificationUnavailable = "classification_unavailable"
	FallbackLowConfidence             = "low_confidence"
	FallbackUnknownLabel              = "unknown_label"
)

type Intent struct {
	Kind       Kind     `json:"kind"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities"`
	RawLabel   string   `json:"raw_label,omitempty"`
	Fallback   string   `json:"fallback,omitempty"`
}

// Utterance is one inbound user message. It is never mutated.
type Utterance struct {
	Text      string
	SessionID int64
	At        time.Time
}

type Turn struct {
	Role    string
	Content string
}

// Classifier never returns an error. An unavailable oracle yields
// Intent{Kind: KindUnknown, Confidence: 0}.
type Classifier interface {
	Classify(ctx context.Context, u Utterance, history []Turn) Intent
}

// Oracle tool contract shared by the classifier and offline oracles.
const (
	ToolName       = "classify_intent"
	ArgIntent      = "intent"
	ArgConfidence  = "confidence"
	ArgProductName = "product_name"
	ArgProductID   = "product_id"
	ArgQuantity    = "quantity"
	ArgCategory    = "category"
	ArgQuery       = "query"
)
