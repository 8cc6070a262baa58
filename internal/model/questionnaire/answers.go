package questionnaire

// AnswerRecord pairs a question with the text given for it.
type AnswerRecord struct {
	Question string `json:"question"`
	Text     string `json:"text"`
}

// Answers is an insertion-ordered question→text mapping. Setting a question
// that already has an answer overwrites it in place.
type Answers struct {
	order  []string
	values map[string]string
}

// NewAnswers returns an empty mapping.
func NewAnswers() *Answers {
	return &Answers{values: make(map[string]string)}
}

// AnswersFromRecords rebuilds a mapping from its ordered records.
func AnswersFromRecords(records []AnswerRecord) *Answers {
	a := NewAnswers()
	for _, r := range records {
		a.Set(r.Question, r.Text)
	}
	return a
}

// Set records text for question.
func (a *Answers) Set(question, text string) {
	if _, ok := a.values[question]; !ok {
		a.order = append(a.order, question)
	}
	a.values[question] = text
}

// Records returns the answers in insertion order.
func (a *Answers) Records() []AnswerRecord {
	records := make([]AnswerRecord, 0, len(a.order))
	for _, q := range a.order {
		records = append(records, AnswerRecord{Question: q, Text: a.values[q]})
	}
	return records
}
