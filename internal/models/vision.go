package models

// ProductFacts are the attributes the vision model extracted from the photos.
// A nil/empty field means the model found no evidence for it.
type ProductFacts struct {
	Brand     string `json:"brand,omitempty"`
	Model     string `json:"model,omitempty"`
	Color     string `json:"color,omitempty"`
	Material  string `json:"material,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// VisionResult is the outcome of one analysis pass over a session's photos
type VisionResult struct {
	Confidence float64      `json:"confidence"`
	Facts      ProductFacts `json:"facts"`

	// Seed values for the listing draft
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Questions the model wants answered before it would trust the draft
	ClarifyingQuestions []string `json:"clarifying_questions,omitempty"`
}
