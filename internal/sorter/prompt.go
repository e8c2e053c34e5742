package sorter

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/edu-harvester/internal/taxonomy"
)

func buildPrompt(filename, extra string, tax taxonomy.Taxonomy) string {
	var b strings.Builder
	b.WriteString("You are an educational resource expert for Ghanaian secondary schools.\n")
	b.WriteString("Classify the file into exactly one grade and one subject.\n\n")
	fmt.Fprintf(&b, "Filename: %q\n", filename)
	if strings.TrimSpace(extra) != "" {
		fmt.Fprintf(&b, "Extra content: %q\n", extra)
	}
	fmt.Fprintf(&b, "\nAvailable grades: %s\n", strings.Join(tax.Grades, ", "))
	fmt.Fprintf(&b, "JHS subjects: %s\n", strings.Join(tax.JHSSubjects, ", "))
	fmt.Fprintf(&b, "SHS subjects: %s\n", strings.Join(tax.SHSSubjects, ", "))
	b.WriteString("\nGrade mapping rules:\n")
	for _, grade := range tax.Grades {
		if rule, ok := tax.GradeRules[grade]; ok {
			fmt.Fprintf(&b, "- %q: %s\n", grade, rule)
		}
	}
	b.WriteString("\nPick the grade first, then the best subject from that grade's list.\n")
	b.WriteString(`Respond with a JSON object only: {"grade": "...", "subject": "...", "confidence": 0.0-1.0}.` + "\n")
	b.WriteString(`If unsure, use "Uncategorized".`)
	return b.String()
}
