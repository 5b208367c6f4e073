package core

import (
	"fmt"
	"strings"
)

// DatasetStage classifies which curation stage a dataset represents.
// Rules declare the stages they apply to; the caller picks one per run.
type DatasetStage string

// Dataset stages.
const (
	StageRDR                     DatasetStage = "rdr"
	StageEHR                     DatasetStage = "ehr"
	StageUnioned                 DatasetStage = "unioned"
	StageCombined                DatasetStage = "combined"
	StageRegisteredTierDeid      DatasetStage = "registered_tier_deid"
	StageRegisteredTierDeidBase  DatasetStage = "registered_tier_deid_base"
	StageRegisteredTierDeidClean DatasetStage = "registered_tier_deid_clean"
	StageControlledTierDeid      DatasetStage = "controlled_tier_deid"
	StageControlledTierDeidBase  DatasetStage = "controlled_tier_deid_base"
	StageControlledTierDeidClean DatasetStage = "controlled_tier_deid_clean"
	StageFitbit                  DatasetStage = "fitbit"
	StageSynthetic               DatasetStage = "synthetic"
)

// AllStages returns every known stage in pipeline order.
func AllStages() []DatasetStage {
	return []DatasetStage{
		StageRDR,
		StageEHR,
		StageUnioned,
		StageCombined,
		StageRegisteredTierDeid,
		StageRegisteredTierDeidBase,
		StageRegisteredTierDeidClean,
		StageControlledTierDeid,
		StageControlledTierDeidBase,
		StageControlledTierDeidClean,
		StageFitbit,
		StageSynthetic,
	}
}

// ParseStage converts a string to a DatasetStage.
func ParseStage(s string) (DatasetStage, error) {
	want := DatasetStage(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllStages() {
		if st == want {
			return st, nil
		}
	}
	return "", &ConfigError{Reason: fmt.Sprintf("unknown dataset stage %q", s)}
}

// String returns the stage name.
func (s DatasetStage) String() string {
	return string(s)
}
