package services

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rahul4469/meter-reader/internal/models"
)

const (
	NotAvailable     = "N/A"
	NoSummaryMessage = "No summary available."
)

// ReadingView is the display layout of one analysis result.
type ReadingView struct {
	Reading   string
	Quality   string
	Digits    []DigitRow
	Condition []ConditionRow
	Summary   string
}

type DigitRow struct {
	Digit      string
	Confidence string
}

type ConditionRow struct {
	Aspect string
	State  string
}

// RenderReading projects r onto the fixed layout. Missing values become N/A.
func RenderReading(r *models.Reading) ReadingView {
	if r == nil {
		r = &models.Reading{}
	}

	view := ReadingView{
		Reading: orNA(r.MeterReading),
		Quality: NotAvailable,
		Summary: NoSummaryMessage,
	}
	if r.ReadingQuality != nil {
		view.Quality = strconv.FormatFloat(*r.ReadingQuality, 'f', -1, 64) + "%"
	}
	if r.Summary != nil && *r.Summary != "" {
		view.Summary = *r.Summary
	}

	for _, d := range r.DigitConfidence {
		row := DigitRow{Digit: orNA(d.Digit), Confidence: NotAvailable}
		if d.Confidence != nil {
			row.Confidence = FormatConfidence(*d.Confidence)
		}
		view.Digits = append(view.Digits, row)
	}

	cond := r.Condition
	if cond == nil {
		cond = &models.ConditionAssessment{}
	}
	view.Condition = []ConditionRow{
		{Aspect: "Physical state", State: orNA(cond.PhysicalState)},
		{Aspect: "Environment", State: orNA(cond.Environment)},
		{Aspect: "Label visibility", State: orNA(cond.LabelVisibility)},
		{Aspect: "Overall condition", State: orNA(cond.OverallCondition)},
	}

	return view
}

// FormatConfidence renders a 0..1 confidence as a percentage with one decimal.
func FormatConfidence(x float64) string {
	return fmt.Sprintf("%.1f%%", x*100)
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return NotAvailable
	}
	return *s
}

// WriteText prints the view as plain-text tables for terminals.
func WriteText(w io.Writer, view ReadingView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Meter reading (kWh)\t%s\n", view.Reading)
	fmt.Fprintf(tw, "Reading quality\t%s\n", view.Quality)

	fmt.Fprintln(tw, "\nDigit\tConfidence")
	if len(view.Digits) == 0 {
		fmt.Fprintf(tw, "%s\t%s\n", NotAvailable, NotAvailable)
	}
	for _, d := range view.Digits {
		fmt.Fprintf(tw, "%s\t%s\n", d.Digit, d.Confidence)
	}

	fmt.Fprintln(tw, "\nAspect\tState")
	for _, c := range view.Condition {
		fmt.Fprintf(tw, "%s\t%s\n", c.Aspect, c.State)
	}

	fmt.Fprintf(tw, "\nSummary\n%s\n", view.Summary)
	return tw.Flush()
}
