package action

import (
	"strings"

	"golang.org/x/text/cases"
)

// Email categories.
const (
	CategoryLegal     = "legal-review"
	CategoryTechnical = "technical-support"
	CategoryBilling   = "billing"
	CategoryTraining  = "training-request"
	CategoryGeneral   = "general-inquiry"
)

// categories are checked in order; the first hit wins.
var categories = []struct {
	name     string
	keywords []string
}{
	{CategoryLegal, []string{"contract", "agreement", "terms", "legal"}},
	{CategoryTechnical, []string{"bug", "error", "issue", "problem", "broken"}},
	{CategoryBilling, []string{"invoice", "payment", "billing", "charge"}},
	{CategoryTraining, []string{"training", "help", "how to", "tutorial"}},
}

var categoryCapabilities = map[string]string{
	CategoryLegal:     "contract_review",
	CategoryTechnical: "technical_support",
	CategoryBilling:   "billing_support",
	CategoryTraining:  "training",
}

// Categorize classifies an email by keywords of its subject and snippet.
func Categorize(subject, snippet string) string {
	text := cases.Fold().String(subject + " " + snippet)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.name
			}
		}
	}
	return CategoryGeneral
}

// CategoryCapability returns the capability that handles category, or ""
// when the category is not routed.
func CategoryCapability(category string) string {
	return categoryCapabilities[category]
}
