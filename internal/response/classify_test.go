package response

import "testing"

func TestClassifyThreeCanonicalKeys(t *testing.T) {
	parsed := map[string]any{
		"labor":               map[string]any{},
		"equipment":           map[string]any{},
		"insurance_and_bonds": map[string]any{},
	}
	if (HeuristicClassifier{}).Classify(parsed) != Canonical {
		t.Fatalf("three canonical keys should classify as canonical")
	}
}

func TestClassifyMetadataPlusMaterials(t *testing.T) {
	parsed := map[string]any{
		"metadata":  map[string]any{},
		"materials": []any{},
	}
	if (HeuristicClassifier{}).Classify(parsed) != Canonical {
		t.Fatalf("metadata+materials should classify as canonical")
	}
}

func TestClassifyTotalBidAlone(t *testing.T) {
	parsed := map[string]any{"total_bid": float64(5000)}
	if (HeuristicClassifier{}).Classify(parsed) != Canonical {
		t.Fatalf("total_bid alone should classify as canonical")
	}
}

func TestClassifySingleSectionIsPartial(t *testing.T) {
	parsed := map[string]any{"labor": map[string]any{"certifications": "OSHA"}}
	if (HeuristicClassifier{}).Classify(parsed) != Partial {
		t.Fatalf("single section should classify as partial")
	}
}

func TestClassifyTwoSectionsIsPartial(t *testing.T) {
	parsed := map[string]any{
		"labor":     map[string]any{},
		"equipment": map[string]any{},
	}
	if (HeuristicClassifier{}).Classify(parsed) != Partial {
		t.Fatalf("two canonical keys without total_bid or metadata+materials should be partial")
	}
}

func TestClassifyUnknownKeysIgnored(t *testing.T) {
	parsed := map[string]any{
		"notes":    "remember to call the vendor",
		"todo":     []any{"order rebar"},
		"reminder": true,
	}
	if (HeuristicClassifier{}).Classify(parsed) != Partial {
		t.Fatalf("unknown keys must not count toward canonical")
	}
}
