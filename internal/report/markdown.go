package report

import (
	"fmt"
	"strings"

	"github.com/symptom-intake-server/internal/domain"
)

// RenderMarkdown renders the report sections as a Markdown document.
func RenderMarkdown(r *domain.Report) string {
	var b strings.Builder
	b.WriteString("# Health Assessment Report\n\n")
	fmt.Fprintf(&b, "Report `%s` generated %s", r.ID, r.CreatedAt.Format("2006-01-02 15:04 UTC"))
	if r.Source == domain.SourceAIRefined {
		b.WriteString(" (ranking reviewed by the reasoning service)")
	}
	b.WriteString("\n\n")
	if r.Complaint != "" {
		fmt.Fprintf(&b, "**Complaint:** %s\n\n", r.Complaint)
	}

	for _, s := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		switch s.Kind {
		case domain.SectionPrimaryDiagnosis:
			if s.Primary != nil {
				fmt.Fprintf(&b, "**%s** with an agreement score of %s (%s confidence).\n",
					s.Primary.Disease.Label, percent(s.Primary.Confidence), s.Primary.Level)
				if s.Primary.Annotation != "" {
					fmt.Fprintf(&b, "\n%s\n", s.Primary.Annotation)
				}
			}
		case domain.SectionDifferential:
			writeDifferential(&b, s.Candidates)
		case domain.SectionRationale:
			b.WriteString(s.Text + "\n")
		case domain.SectionRecommendations:
			writeRecommendation(&b, s.Recommendation)
		case domain.SectionDisclaimer:
			fmt.Fprintf(&b, "> %s\n", s.Text)
		}
		b.WriteString("\n")
	}

	if len(r.Degraded) > 0 {
		fmt.Fprintf(&b, "*Classifiers unavailable for this report: %s.*\n", strings.Join(r.Degraded, ", "))
	}
	return b.String()
}

func writeDifferential(b *strings.Builder, candidates []domain.RankedDiagnosis) {
	if len(candidates) == 0 {
		b.WriteString("No other condition scored high enough to list.\n")
		return
	}
	b.WriteString("| Condition | Confidence | Score |\n|-----------|-----------|-------|\n")
	for _, c := range candidates {
		fmt.Fprintf(b, "| %s | %s | %s |\n", c.Disease.Label, c.Level, percent(c.Confidence))
	}
}

func writeRecommendation(b *strings.Builder, rec *domain.RecommendationText) {
	if rec == nil {
		return
	}
	if rec.UrgentWarning != "" {
		fmt.Fprintf(b, "**Warning:** %s\n\n", rec.UrgentWarning)
	}
	if rec.Summary != "" {
		fmt.Fprintf(b, "%s\n\n", rec.Summary)
	}
	list := func(title string, items []string) {
		if len(items) > 0 {
			fmt.Fprintf(b, "- **%s:** %s\n", title, strings.Join(items, ", "))
		}
	}
	list("Medicines", rec.Medicines)
	list("Home remedies", rec.HomeRemedies)
	list("Dietary advice", rec.DietaryAdvice)
	list("Lifestyle", rec.LifestyleChange)
	if rec.Specialist != "" {
		fmt.Fprintf(b, "- **Specialist:** %s\n", rec.Specialist)
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

// Summary is a short spoken-style digest of the report.
func Summary(r *domain.Report) string {
	primary, ok := r.PrimaryDiagnosis()
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The most likely condition is %s, with %s confidence.", primary.Disease.Label, strings.ToLower(string(primary.Level)))
	if s, ok := r.Section(domain.SectionDifferential); ok && len(s.Candidates) > 0 {
		names := make([]string, len(s.Candidates))
		for i, c := range s.Candidates {
			names[i] = c.Disease.Label
		}
		fmt.Fprintf(&b, " Other possibilities are %s.", strings.Join(names, ", "))
	}
	if s, ok := r.Section(domain.SectionRecommendations); ok && s.Recommendation != nil && s.Recommendation.Specialist != "" {
		fmt.Fprintf(&b, " Consider seeing a %s.", s.Recommendation.Specialist)
	}
	if s, ok := r.Section(domain.SectionDisclaimer); ok {
		b.WriteString(" " + s.Text)
	}
	return b.String()
}
