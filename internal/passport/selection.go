package passport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db/models"
)

// Mask field names. These are also the document's top-level keys.
const (
	FieldModelDetails           = "modelDetails"
	FieldModelDeploymentDetails = "modelDeploymentDetails"
	FieldEnvironmentDetails     = "environmentDetails"
	FieldDatasets               = "datasets"
	FieldFeatureSets            = "featureSets"
	FieldLearningProcessDetails = "learningProcessDetails"
	FieldParameterDetails       = "parameterDetails"
	FieldPopulationDetails      = "populationDetails"
	FieldExperimentDetails      = "experimentDetails"
	FieldSurveyDetails          = "surveyDetails"
	FieldStudyDetails           = "studyDetails"
)

// FieldNames returns the 11 mask field names in assembly order.
func FieldNames() []string {
	out := make([]string, len(detailFields))
	for i, f := range detailFields {
		out[i] = f.name
	}
	return out
}

// SelectedFields returns the names of the true flags in assembly order.
func SelectedFields(sel models.PassportDetailSelection) []string {
	var out []string
	for _, f := range detailFields {
		if *f.get(&sel) {
			out = append(out, f.name)
		}
	}
	return out
}

// SelectionFromFields builds a mask with exactly the named fields set.
// An unknown name is a ValidationError.
func SelectionFromFields(names []string) (models.PassportDetailSelection, error) {
	var sel models.PassportDetailSelection
	for _, name := range names {
		found := false
		for _, f := range detailFields {
			if f.name == name {
				*f.get(&sel) = true
				found = true
				break
			}
		}
		if !found {
			return models.PassportDetailSelection{}, apperr.Validation("selection", fmt.Sprintf("unknown field %q", name))
		}
	}
	return sel, nil
}

// ParseSelection decodes a JSON mask, rejecting unknown fields and non-boolean values.
func ParseSelection(data []byte) (models.PassportDetailSelection, error) {
	var sel models.PassportDetailSelection
	if len(bytes.TrimSpace(data)) == 0 {
		return sel, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sel); err != nil {
		return models.PassportDetailSelection{}, apperr.Validation("selection", err.Error())
	}
	return sel, nil
}
