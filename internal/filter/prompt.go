package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
	"github.com/JakeFAU/edu-harvester/internal/taxonomy"
)

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

func strictness(values []string, strict, loose string) string {
	if len(values) > 0 {
		return strict
	}
	return loose
}

func buildPrompt(link ingest.LinkContext, cfg Config, tax taxonomy.Taxonomy) string {
	var b strings.Builder
	b.WriteString("You are an expert educational content analyzer for Ghana's education system.\n\n")
	b.WriteString("TASK: Decide whether the resource behind this link is worth downloading.\n\n")
	b.WriteString("LINK INFORMATION:\n")
	fmt.Fprintf(&b, "- URL: %s\n", link.URL)
	fmt.Fprintf(&b, "- Link Text: %s\n", orNA(link.LinkText))
	fmt.Fprintf(&b, "- Surrounding Text: %s\n", orNA(link.SurroundingText))
	fmt.Fprintf(&b, "- Page Title: %s\n", orNA(link.PageTitle))
	if len(link.AnchorAttributes) > 0 {
		if attrs, err := json.Marshal(link.AnchorAttributes); err == nil {
			fmt.Fprintf(&b, "- Attributes: %s\n", attrs)
		}
	}
	b.WriteString("\nTARGET FILTERS:\n")
	fmt.Fprintf(&b, "- Target Subjects: %s\n", joinOr(cfg.TargetSubjects, "ANY educational subject"))
	fmt.Fprintf(&b, "- Target Grades: %s\n", joinOr(cfg.TargetGrades, "ANY grade level"))
	fmt.Fprintf(&b, "\nVALID SUBJECTS:\n%s\n", strings.Join(tax.FilterSubjects, ", "))
	fmt.Fprintf(&b, "\nVALID GRADES:\n%s\n", strings.Join(tax.FilterGrades, ", "))
	b.WriteString("\nANALYSIS CRITERIA:\n")
	b.WriteString("1. Does the link point to an educational resource (PDF, document, presentation)?\n")
	fmt.Fprintf(&b, "2. Is it relevant to the target subjects? %s\n",
		strictness(cfg.TargetSubjects, "(STRICT: must match target subjects)", "(any educational subject acceptable)"))
	fmt.Fprintf(&b, "3. Is it relevant to the target grade levels? %s\n",
		strictness(cfg.TargetGrades, "(STRICT: must match target grades)", "(any grade level acceptable)"))
	b.WriteString("4. Does it contain curriculum materials, textbooks, syllabi, past questions or teaching resources?\n")
	b.WriteString("5. Is it specific to Ghana's JHS/SHS system (BECE, WASSCE)?\n")
	b.WriteString(`
RESPONSE FORMAT (JSON only):
{
  "shouldDownload": boolean,
  "confidence": number between 0.0 and 1.0,
  "reasoning": "brief explanation (max 100 chars)",
  "detectedSubject": "subject or null",
  "detectedGrade": "grade or null"
}

RULES:
- Navigation, advertising or contact links are never downloads.
- When uncertain, keep confidence below 0.7.
`)
	return b.String()
}
