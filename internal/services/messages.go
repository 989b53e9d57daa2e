package services

import (
	"fmt"
	"strings"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// fieldQuestions are the guided-dialog prompts, one per pending field kind
var fieldQuestions = map[models.PendingKind]string{
	models.PendingCategory:  "📂 Não consegui identificar a categoria. Qual é a categoria do produto? (ex: MLB1055)",
	models.PendingCondition: "🔍 O produto é *novo* ou *usado*?",
	models.PendingPrice:     "💰 Qual preço você quer anunciar? (ex: 1200 ou 1.200,50)",
	models.PendingTitle:     "✏️ Qual título você quer para o anúncio?",
}

func questionFor(pending *models.PendingField, schema []CategoryAttribute) string {
	if pending == nil {
		return ""
	}
	if pending.Kind == models.PendingAttribute {
		name := pending.AttributeID
		if attr, ok := findAttribute(schema, pending.AttributeID); ok && attr.Name != "" {
			name = attr.Name
		}
		return fmt.Sprintf("🏷️ Qual é o valor de *%s*? (responda %s=valor ou só o valor)", name, strings.ToLower(name))
	}
	return fieldQuestions[pending.Kind]
}

func fieldLabel(field string) string {
	switch field {
	case "category":
		return "categoria"
	case "condition":
		return "condição (novo/usado)"
	case "price":
		return "preço"
	case "title":
		return "título"
	}
	return field
}

// formatGaps lists everything still missing, for free-form mode
func formatGaps(draft *models.ListingDraft, schema []CategoryAttribute) string {
	var lines []string
	for _, f := range draft.MissingFields {
		lines = append(lines, "• "+fieldLabel(f))
	}
	for _, id := range draft.MissingAttributes {
		name := id
		if attr, ok := findAttribute(schema, id); ok && attr.Name != "" {
			name = attr.Name
		}
		lines = append(lines, "• "+name)
	}
	return "📋 Ainda faltam estas informações:\n" + strings.Join(lines, "\n") +
		"\n\nResponda com linhas chave=valor (ex: preco=1200)"
}

// formatDraftSummary renders the current draft for the operator
func formatDraftSummary(s *models.Session) string {
	d := s.Draft
	var b strings.Builder

	b.WriteString("📦 *Resumo do anúncio*\n")
	b.WriteString(fmt.Sprintf("✏️ Título: %s\n", orDash(d.Title)))
	b.WriteString(fmt.Sprintf("📂 Categoria: %s\n", orDash(d.CategoryID)))
	b.WriteString(fmt.Sprintf("🔍 Condição: %s\n", orDash(d.Condition)))
	if d.Price > 0 {
		b.WriteString(fmt.Sprintf("💰 Preço: R$ %.2f\n", d.Price))
	} else {
		b.WriteString("💰 Preço: -\n")
	}

	if s.Pricing != nil {
		b.WriteString(fmt.Sprintf("📊 Sugestões (%d anúncios parecidos): venda rápida R$ %d | justo R$ %d | margem R$ %d\n",
			s.Pricing.SampleSize, s.Pricing.SuggestedFast, s.Pricing.SuggestedFair, s.Pricing.SuggestedProfit))
	} else {
		b.WriteString("📊 Poucos anúncios parecidos para sugerir preço com confiança\n")
	}

	var guessed []string
	for _, a := range d.Attributes {
		if a.AutoFilled {
			label := a.Name
			if label == "" {
				label = a.ID
			}
			guessed = append(guessed, fmt.Sprintf("%s: %s", label, orDash(firstNonEmpty(a.ValueName, a.ValueID))))
		}
	}
	if len(guessed) > 0 {
		b.WriteString("🤖 Preenchido automaticamente (confira!): " + strings.Join(guessed, "; ") + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func confirmPrompt() string {
	return "✅ Tudo pronto! Responda *confirmar* para criar o anúncio pausado, ou envie ajustes (ex: preco=1100)"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
