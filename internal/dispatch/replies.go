package dispatch

import (
	"errors"
	"fmt"
	"strings"

	cartflowdomain "github.com/smallbiznis/shopassist/internal/cartflow/domain"
	intentdomain "github.com/smallbiznis/shopassist/internal/intent/domain"
	"github.com/smallbiznis/shopassist/internal/knowledge"
	retrievaldomain "github.com/smallbiznis/shopassist/internal/retrieval/domain"
)

const (
	replyClarify   = "Sorry, I didn't quite get that. You can ask me to find products, answer questions about them, manage your cart or check out."
	replyEmptyCart = "Your cart is empty."
	replyNoMatch   = "I couldn't find any product matching %q in our catalog."
	replyDegraded  = "I couldn't search the catalog just now. Please try again in a moment."
	replyInternal  = "Something went wrong on our side. Please try again."

	descriptionLimit = 120
	policyLimit      = 2
)

func clarifyMissing(entity string) string {
	switch entity {
	case intentdomain.EntityProduct:
		return "Which product do you mean?"
	case intentdomain.EntityQuantity:
		return "How many would you like?"
	case intentdomain.EntityQuery:
		return "What are you looking for?"
	}
	return "Could you give me a bit more detail?"
}

func clarifyInvalid(entity string) string {
	switch entity {
	case intentdomain.EntityQuantity:
		return "I didn't understand the quantity. Please give it as a whole number."
	case intentdomain.EntityProduct:
		return "I didn't recognise that product. Could you tell me its name?"
	}
	return "I didn't understand part of that. Could you rephrase?"
}

func failureText(err error, ref string) string {
	var ambiguous *cartflowdomain.AmbiguousError
	if errors.As(err, &ambiguous) {
		names := make([]string, 0, len(ambiguous.Candidates))
		for _, c := range ambiguous.Candidates {
			names = append(names, c.Name)
		}
		return fmt.Sprintf("I found several products matching %q: %s. Which one did you mean?", ambiguous.Ref, strings.Join(names, ", "))
	}
	var stock *cartflowdomain.StockError
	if errors.As(err, &stock) {
		return fmt.Sprintf("Sorry, only %d of %s are in stock.", stock.Available, stock.Product)
	}

	switch {
	case errors.Is(err, cartflowdomain.ErrProductNotFound):
		if ref == "" {
			return "I couldn't find that product in our catalog."
		}
		return fmt.Sprintf("I couldn't find a product matching %q in our catalog.", ref)
	case errors.Is(err, cartflowdomain.ErrNotInCart):
		if ref == "" {
			return "That product is not in your cart."
		}
		return fmt.Sprintf("%s is not in your cart.", ref)
	case errors.Is(err, cartflowdomain.ErrSessionClosed):
		return "This session has already been checked out. Please start a new session to keep shopping."
	case errors.Is(err, cartflowdomain.ErrSessionNotFound):
		return "I couldn't find your shopping session. Please start a new one."
	case errors.Is(err, cartflowdomain.ErrEmptyCart):
		return "Your cart is empty, so there is nothing to check out yet."
	case errors.Is(err, cartflowdomain.ErrInvalidQuantity):
		return fmt.Sprintf("Please choose a quantity between 1 and %d.", cartflowdomain.MaxLineQuantity)
	case errors.Is(err, cartflowdomain.ErrConcurrentModification):
		return "Your cart was being updated by another request. Please try again."
	case errors.Is(err, cartflowdomain.ErrPartitionUnavailable):
		return "Our store is temporarily unavailable. Please try again in a moment."
	}
	return replyInternal
}

// formatListing renders at most limit items as numbered lines of the form
// "1. Blue T-Shirt ($15.00) - rated 4.5". The chat client and the keyword
// oracle both parse this shape to resolve "the second one".
func formatListing(header string, items []retrievaldomain.Item, limit int, describe bool) string {
	if len(items) > limit {
		items = items[:limit]
	}
	var b strings.Builder
	b.WriteString(header)
	for i, item := range items {
		p := item.Product
		fmt.Fprintf(&b, "\n%d. %s (%s) - rated %.1f", i+1, p.Name, cartflowdomain.FormatPrice(p.Price, p.Currency), p.Score)
		if describe && p.Description != "" {
			fmt.Fprintf(&b, ": %s", truncate(p.Description, descriptionLimit))
		}
	}
	return b.String()
}

// formatPolicies renders passages as bullets so they never parse as a
// product listing.
func formatPolicies(matches []knowledge.Match) string {
	var b strings.Builder
	b.WriteString("From our store policies:")
	for _, m := range matches {
		fmt.Fprintf(&b, "\n- %s: %s", m.Passage.Topic, m.Passage.Body)
	}
	return b.String()
}

func formatCart(summary *cartflowdomain.Summary) string {
	var b strings.Builder
	b.WriteString("Your cart:")
	for i, line := range summary.Lines {
		fmt.Fprintf(&b, "\n%d. %s (%s) x %d = %s", i+1, line.Name,
			cartflowdomain.FormatPrice(line.UnitPrice, line.Currency), line.Quantity,
			cartflowdomain.FormatPrice(line.Subtotal, line.Currency))
	}
	fmt.Fprintf(&b, "\nTotal: %s for %s.", cartflowdomain.FormatPrice(summary.Total, summary.Currency), items(summary.ItemCount))
	return b.String()
}

func items(n int64) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
