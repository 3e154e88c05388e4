package models

// Question is one multiple-choice question. Produced by the question source
// at room creation and never mutated afterwards. The JSON shape matches what
// the generation prompt asks the model for.
type Question struct {
	Text          string   `json:"question"`
	Options       []string `json:"options"` // exactly 4
	CorrectAnswer int      `json:"correctAnswer"`
}
