package response

// Kind is the classifier verdict for a parsed structured block.
type Kind int

const (
	// Partial means the block is a targeted patch merged field-by-field.
	Partial Kind = iota
	// Canonical means the block is a full estimate that replaces
	// answer_json wholesale.
	Canonical
)

// CanonicalKeys is the section vocabulary the estimator prompt asks the
// model to produce. The document store tolerates sections outside this
// list; the classifier only counts against it.
var CanonicalKeys = []string{
	"metadata",
	"materials",
	"labor",
	"equipment",
	"permits_and_licenses",
	"insurance_and_bonds",
	"subcontractors_and_vendors",
	"timeline_and_scheduling",
	"site_conditions_and_preparation",
	"safety_and_compliance",
	"overhead_and_profit",
	"contingencies_and_allowances",
	"quality_control_and_testing",
	"closeout_and_warranty",
	"section_costs",
	"total_bid",
	"section_costs_explanation",
}

// Classifier decides whether a parsed block is a full replacement
// estimate or a partial update. It is an interface so the heuristic can
// later be swapped for an explicit model-supplied flag without touching
// the merge engine.
type Classifier interface {
	Classify(parsed map[string]any) Kind
}

// HeuristicClassifier is the default: a block is canonical when at least
// three canonical sections are present, or metadata and materials appear
// together, or total_bid appears at all. There is no ground truth for
// this decision; the thresholds match what the estimator prompt reliably
// produces for full bids versus targeted patches.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(parsed map[string]any) Kind {
	count := 0
	for _, key := range CanonicalKeys {
		if _, ok := parsed[key]; ok {
			count++
		}
	}
	_, hasMetadata := parsed["metadata"]
	_, hasMaterials := parsed["materials"]
	_, hasTotalBid := parsed["total_bid"]

	if count >= 3 || (hasMetadata && hasMaterials) || hasTotalBid {
		return Canonical
	}
	return Partial
}
