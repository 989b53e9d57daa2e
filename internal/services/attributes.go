package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// AttributeOption is one enumerated value of a category attribute
type AttributeOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CategoryAttribute is one required attribute of a marketplace category
type CategoryAttribute struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Values []AttributeOption `json:"values,omitempty"`
}

// Resolution is the outcome of one negotiation pass
type Resolution struct {
	Attributes []models.DraftAttribute // everything resolved so far
	Missing    []CategoryAttribute     // ordered gaps still needing the operator
	AutoFilled []string                // attribute ids filled by guessing this pass
}

// conditionSynonyms maps normalized condition words to the canonical values
// the marketplace understands
var conditionSynonyms = map[string]string{
	"novo":           "novo",
	"nova":           "novo",
	"new":            "novo",
	"lacrado":        "novo",
	"usado":          "usado",
	"usada":          "usado",
	"used":           "usado",
	"seminovo":       "usado",
	"seminova":       "usado",
	"recondicionado": "recondicionado",
	"refurbished":    "recondicionado",
}

// AttributeNegotiator reconciles a category's required attributes against
// vision evidence and user overrides. Stateless per call. It never invents
// a value without evidence; every guess is recorded so the operator sees it
// before publish.
type AttributeNegotiator struct{}

// NewAttributeNegotiator creates a negotiator
func NewAttributeNegotiator() *AttributeNegotiator {
	return &AttributeNegotiator{}
}

// Resolve fills the attributes it can and lists the remaining gaps in
// schema order. Overrides are keyed by attribute id or by (normalized)
// attribute name and always win over vision evidence.
func (n *AttributeNegotiator) Resolve(
	schema []CategoryAttribute,
	condition string,
	facts models.ProductFacts,
	overrides map[string]string,
) Resolution {
	res := Resolution{}

	for _, attr := range schema {
		candidate := n.candidateFor(attr, condition, facts, overrides)
		fromUser := n.overrideFor(attr, overrides) != ""

		filled, ok := n.Fill(attr, candidate)
		if !ok {
			res.Missing = append(res.Missing, attr)
			continue
		}

		if !fromUser {
			filled.AutoFilled = true
			res.AutoFilled = append(res.AutoFilled, attr.ID)
		}
		res.Attributes = append(res.Attributes, filled)
	}

	return res
}

// Fill attempts to resolve a single attribute from a candidate value.
// Returns ok=false when there is no evidence to map.
func (n *AttributeNegotiator) Fill(attr CategoryAttribute, candidate string) (models.DraftAttribute, bool) {
	// An attribute with exactly one allowed value needs no evidence at all
	if len(attr.Values) == 1 {
		return models.DraftAttribute{
			ID:        attr.ID,
			Name:      attr.Name,
			ValueID:   attr.Values[0].ID,
			ValueName: attr.Values[0].Name,
		}, true
	}

	if candidate == "" {
		return models.DraftAttribute{}, false
	}

	// Homologation numbers are registration codes, never enum values
	if strings.Contains(attr.ID, "HOMOLOGATION") {
		return models.DraftAttribute{ID: attr.ID, Name: attr.Name, ValueName: candidate}, true
	}

	if opt, ok := matchOption(candidate, attr.Values); ok {
		return models.DraftAttribute{
			ID:        attr.ID,
			Name:      attr.Name,
			ValueID:   opt.ID,
			ValueName: opt.Name,
		}, true
	}

	// No enumerated options to match against: pass the text through
	if len(attr.Values) == 0 {
		return models.DraftAttribute{ID: attr.ID, Name: attr.Name, ValueName: candidate}, true
	}

	return models.DraftAttribute{}, false
}

// candidateFor picks the best evidence for an attribute: user override
// first, then the condition value for condition-like attributes, then
// the vision fact matching the attribute's meaning.
func (n *AttributeNegotiator) candidateFor(
	attr CategoryAttribute,
	condition string,
	facts models.ProductFacts,
	overrides map[string]string,
) string {
	if v := n.overrideFor(attr, overrides); v != "" {
		return v
	}

	if isConditionAttribute(attr.ID) {
		if canonical, ok := conditionSynonyms[Normalize(condition)]; ok {
			return canonical
		}
		return condition
	}

	id := strings.ToUpper(attr.ID)
	switch {
	case strings.Contains(id, "BRAND"):
		return facts.Brand
	case strings.Contains(id, "MODEL"):
		return facts.Model
	case strings.Contains(id, "COLOR"):
		return facts.Color
	case strings.Contains(id, "MATERIAL"):
		return facts.Material
	}
	return ""
}

func (n *AttributeNegotiator) overrideFor(attr CategoryAttribute, overrides map[string]string) string {
	if v, ok := overrides[attr.ID]; ok {
		return v
	}
	if v, ok := overrides[strings.ToLower(attr.ID)]; ok {
		return v
	}
	want := Normalize(attr.Name)
	for key, v := range overrides {
		if Normalize(key) == want {
			return v
		}
	}
	return ""
}

func isConditionAttribute(id string) bool {
	up := strings.ToUpper(id)
	return strings.Contains(up, "ITEM_CONDITION") || strings.Contains(up, "WARRANTY_TYPE")
}

// matchOption maps a free-text value onto an enumerated option: exact
// normalized match first, then substring containment either direction.
// Among equal matches an id-bearing option wins over one without an id.
func matchOption(value string, options []AttributeOption) (AttributeOption, bool) {
	nv := Normalize(value)
	if nv == "" {
		return AttributeOption{}, false
	}

	var exact, partial *AttributeOption
	for i := range options {
		no := Normalize(options[i].Name)
		if no == "" {
			continue
		}
		switch {
		case no == nv:
			if exact == nil || (exact.ID == "" && options[i].ID != "") {
				exact = &options[i]
			}
		case strings.Contains(no, nv) || strings.Contains(nv, no):
			if partial == nil || (partial.ID == "" && options[i].ID != "") {
				partial = &options[i]
			}
		}
	}

	if exact != nil {
		return *exact, true
	}
	if partial != nil {
		return *partial, true
	}
	return AttributeOption{}, false
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize strips diacritics, lowercases and collapses every run of
// non-alphanumerics to a single space
func Normalize(s string) string {
	clean, _, err := transform.String(stripMarks, s)
	if err != nil {
		clean = s
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(clean) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
