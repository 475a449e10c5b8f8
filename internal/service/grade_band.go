package service

import "github.com/campusops/grade-engine/internal/models"

// gradeBand maps a closed lower bound to its numeric grade label.
type gradeBand struct {
	Floor   float64
	Numeric float64
}

// gradeBands is a public display contract: any surface rendering
// "1.00".."5.00" must match these thresholds exactly. Ordered descending;
// lower bounds are inclusive.
var gradeBands = []gradeBand{
	{97.5, 1.00},
	{94.5, 1.25},
	{91.5, 1.50},
	{86.5, 1.75},
	{81.5, 2.00},
	{76.0, 2.25},
	{70.5, 2.50},
	{65.0, 2.75},
	{59.5, 3.00},
}

// Band converts a weighted percentage into its numeric grade label.
// Anything below the lowest passing band is 5.00.
func Band(percentage float64) float64 {
	for _, band := range gradeBands {
		if percentage >= band.Floor {
			return band.Numeric
		}
	}
	return 5.00
}

// BandRemarks returns the PASSED/FAILED remark for a numeric grade.
func BandRemarks(numeric float64) string {
	if numeric <= 3.00 {
		return models.RemarksPassed
	}
	return models.RemarksFailed
}
