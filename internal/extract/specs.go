package extract

import (
	"strings"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
)

// SpecOptions are the catalog's valid sets for the matched model plus the trim name.
type SpecOptions struct {
	Fuels         []string
	Transmissions []string
	Drivetrains   []string
	Bodies        []string
	Trim          string
}

// SpecSet holds the resolved drivetrain-level attributes. Empty means unknown.
type SpecSet struct {
	Fuel         string
	Transmission string
	Drivetrain   string
	Body         string
}

type trimKeyword struct {
	token string
	value string
}

var (
	fuelTrimKeywords = []trimKeyword{
		{"hybrid", "Hybrid"}, {"plug-in", "Plug-In Hybrid"}, {"phev", "Plug-In Hybrid"},
		{"ev", "Electric"}, {"electric", "Electric"}, {"diesel", "Diesel"}, {"tdi", "Diesel"},
	}
	transmissionTrimKeywords = []trimKeyword{
		{"manual", "Manual"}, {"mt", "Manual"}, {"cvt", "CVT"}, {"automatic", "Automatic"}, {"at", "Automatic"},
	}
	drivetrainTrimKeywords = []trimKeyword{
		{"awd", "AWD"}, {"4wd", "4WD"}, {"4x4", "4WD"}, {"fwd", "FWD"}, {"rwd", "RWD"}, {"2wd", "2WD"},
	}
	bodyTrimKeywords = []trimKeyword{
		{"sedan", "Sedan"}, {"coupe", "Coupe"}, {"hatchback", "Hatchback"}, {"convertible", "Convertible"},
		{"wagon", "Wagon"}, {"crew cab", "Truck"}, {"supercrew", "Truck"}, {"van", "Van"},
	}
)

// Specs resolves each attribute from, in order: the page text restricted to the
// model's valid set, the set's only value when it has exactly one, then keywords in the trim name.
func Specs(pageText string, opts SpecOptions) SpecSet {
	return SpecSet{
		Fuel:         resolveSpec(pageText, opts.Fuels, opts.Trim, fuelTrimKeywords),
		Transmission: resolveSpec(pageText, opts.Transmissions, opts.Trim, transmissionTrimKeywords),
		Drivetrain:   resolveSpec(pageText, opts.Drivetrains, opts.Trim, drivetrainTrimKeywords),
		Body:         resolveSpec(pageText, opts.Bodies, opts.Trim, bodyTrimKeywords),
	}
}

func resolveSpec(pageText string, valid []string, trim string, keywords []trimKeyword) string {
	for _, v := range valid {
		if catalog.ContainsLone(pageText, v) {
			return v
		}
	}
	if len(valid) == 1 {
		return valid[0]
	}
	if trim = strings.TrimSpace(trim); trim == "" {
		return ""
	}
	for _, kw := range keywords {
		if catalog.ContainsLone(trim, kw.token) {
			return kw.value
		}
	}
	return ""
}
