// Package taxonomy holds the curriculum vocabularies used to validate model output.
package taxonomy

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/edu-harvester/internal/ingest"
)

// Level is the school level a grade bucket belongs to.
type Level string

// Supported levels.
const (
	LevelJHS Level = "JHS"
	LevelSHS Level = "SHS"
)

// Taxonomy is the set of controlled vocabularies for filtering and sorting.
type Taxonomy struct {
	// Grades are the canonical grade buckets used by the sorter.
	Grades []string `yaml:"grades"`
	// JHSSubjects and SHSSubjects are the per-level subject whitelists.
	JHSSubjects []string `yaml:"jhs_subjects"`
	SHSSubjects []string `yaml:"shs_subjects"`
	// FilterSubjects and FilterGrades are the looser vocabularies used when
	// judging link relevance (they include aliases such as "Basic 7").
	FilterSubjects []string `yaml:"filter_subjects"`
	FilterGrades   []string `yaml:"filter_grades"`
	// GradeRules describe which aliases map to each grade bucket.
	GradeRules map[string]string `yaml:"grade_rules"`
}

// Default returns the built-in Ghanaian JHS/SHS taxonomy.
func Default() Taxonomy {
	return Taxonomy{
		Grades: []string{
			ingest.GradeJHS1, ingest.GradeJHS2, ingest.GradeJHS3,
			ingest.GradeSHS1, ingest.GradeSHS2, ingest.GradeSHS3,
		},
		JHSSubjects: []string{
			"Career Technology", "Computing_ICT", "Creative Arts and Design_CAD",
			"English Language", "French", "Ghanaian Language", "Mathematics",
			"Physical and Health Education_PHE", "Religious and Moral Education_RME",
			"Science", "Social Studies",
		},
		SHSSubjects: []string{
			"Applied Electricity", "Auto Mechanics", "Biology", "Building Construction",
			"Business Management", "Ceramics", "Chemistry", "Clothing and Textiles",
			"Computing", "Cost Accounting", "Economics", "Electronics", "English Language",
			"Financial Accounting", "Food and Nutrition", "French", "General Knowledge in Art",
			"Geography", "Government", "Graphic Design", "History",
			"Information and Communication Technology_ICT", "Integrated Science",
			"Leatherwork", "Literature-in-English", "Management in Living",
			"Mathematics_Core", "Mathematics_Elective", "Metalwork", "Music",
			"Physical Education_PHE", "Physics", "Picture Making",
			"Religious and Moral Education_RME", "Sculpture", "Social Studies",
			"Technical Drawing", "Textiles", "Woodwork",
		},
		FilterSubjects: []string{
			"Career Technology", "Computing", "ICT", "Creative Arts", "Design",
			"English Language", "French", "Ghanaian Language", "Mathematics",
			"Physical Education", "Health Education", "Religious Education",
			"Moral Education", "Science", "Social Studies",
			"Applied Electricity", "Auto Mechanics", "Biology", "Building Construction",
			"Business Management", "Ceramics", "Chemistry", "Clothing and Textiles",
			"Cost Accounting", "Economics", "Electronics", "Financial Accounting",
			"Food and Nutrition", "Geography", "Government", "Graphic Design",
			"History", "Integrated Science", "Leatherwork", "Literature",
			"Management in Living", "Metalwork", "Music", "Physics",
			"Picture Making", "Sculpture", "Technical Drawing", "Textiles",
			"Woodwork", "Robotics", "Engineering",
		},
		FilterGrades: []string{
			"JHS1", "JHS2", "JHS3", "BECE",
			"SHS1", "SHS2", "SHS3", "WASSCE",
			"Basic 7", "Basic 8", "Basic 9",
			"Form 1", "Form 2", "Form 3",
		},
		GradeRules: map[string]string{
			ingest.GradeJHS1: "JHS 1, Basic 7, Form 1, Year 1 (JHS)",
			ingest.GradeJHS2: "JHS 2, Basic 8, Form 2, Year 2 (JHS)",
			ingest.GradeJHS3: "JHS 3, Basic 9, Form 3, Year 3 (JHS), BECE",
			ingest.GradeSHS1: "Senior High 1, Year 1 (SHS), Form 1 (SHS)",
			ingest.GradeSHS2: "Senior High 2, Year 2 (SHS), Form 2 (SHS)",
			ingest.GradeSHS3: "Senior High 3, Year 3 (SHS), Form 3 (SHS), WASSCE",
		},
	}
}

// LoadFile reads a YAML taxonomy; empty sections keep the built-in values.
func LoadFile(path string) (Taxonomy, error) {
	tax := Default()
	if strings.TrimSpace(path) == "" {
		return tax, nil
	}
	// #nosec G304 -- operator-provided taxonomy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, fmt.Errorf("read taxonomy: %w", err)
	}
	var override Taxonomy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Taxonomy{}, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(override.Grades) > 0 {
		tax.Grades = override.Grades
	}
	if len(override.JHSSubjects) > 0 {
		tax.JHSSubjects = override.JHSSubjects
	}
	if len(override.SHSSubjects) > 0 {
		tax.SHSSubjects = override.SHSSubjects
	}
	if len(override.FilterSubjects) > 0 {
		tax.FilterSubjects = override.FilterSubjects
	}
	if len(override.FilterGrades) > 0 {
		tax.FilterGrades = override.FilterGrades
	}
	if len(override.GradeRules) > 0 {
		tax.GradeRules = override.GradeRules
	}
	return tax, nil
}

// IsGrade reports whether grade is one of the canonical buckets.
func (t Taxonomy) IsGrade(grade string) bool {
	return slices.Contains(t.Grades, grade)
}

// LevelOf returns the school level of a grade bucket.
func (t Taxonomy) LevelOf(grade string) Level {
	if strings.HasPrefix(grade, "SHS") {
		return LevelSHS
	}
	return LevelJHS
}

// SubjectsFor returns the whitelist scoped to the grade's level.
func (t Taxonomy) SubjectsFor(grade string) []string {
	if t.LevelOf(grade) == LevelSHS {
		return t.SHSSubjects
	}
	return t.JHSSubjects
}

// Validate normalizes a raw model classification. Unknown grades become
// Uncategorized and subjects outside the grade-level whitelist are reset to
// Uncategorized. The returned flag reports whether the subject was rejected.
func (t Taxonomy) Validate(grade, subject string) (string, string, bool) {
	if !t.IsGrade(grade) {
		grade = ingest.Uncategorized
	}
	if strings.TrimSpace(subject) == "" {
		subject = ingest.Uncategorized
	}
	if subject == ingest.Uncategorized {
		return grade, subject, false
	}
	if grade == ingest.Uncategorized {
		return grade, ingest.Uncategorized, true
	}
	if !slices.Contains(t.SubjectsFor(grade), subject) {
		return grade, ingest.Uncategorized, true
	}
	return grade, subject, false
}

// IsSortedDir reports whether a directory name is part of the sorted tree
// (a grade bucket or the review holding area).
func (t Taxonomy) IsSortedDir(name string) bool {
	return name == ingest.ReviewNeeded || t.IsGrade(name)
}
