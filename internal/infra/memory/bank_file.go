package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gradeup-exam-service/internal/domain"
)

// bankFile is the YAML layout of a question bank:
//
//	subjects:
//	  math:
//	    - id: 1
//	      prompt: "2 + 2 = ?"
//	      kind: single_choice
//	      options: ["3", "4"]
//	      correctIndex: 1
type bankFile struct {
	Subjects map[string][]domain.Question `yaml:"subjects"`
}

// LoadBankFile reads a YAML question bank keyed by subject. Questions
// without a subject label inherit the key they are listed under.
func LoadBankFile(path string) (map[string][]domain.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBank(data)
}

// ParseBank decodes YAML bank content and checks every question.
func ParseBank(data []byte) (map[string][]domain.Question, error) {
	var file bankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	for subject, questions := range file.Subjects {
		seen := make(map[int]bool, len(questions))
		for i := range questions {
			q := &questions[i]
			if q.Subject == "" {
				q.Subject = subject
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("subject %s: duplicate question id %d", subject, q.ID)
			}
			seen[q.ID] = true
			if err := checkQuestion(*q); err != nil {
				return nil, fmt.Errorf("subject %s question %d: %w", subject, q.ID, err)
			}
		}
	}
	return file.Subjects, nil
}

func checkQuestion(q domain.Question) error {
	switch q.Kind {
	case domain.KindSingleChoice:
		if len(q.Options) == 0 {
			return fmt.Errorf("single-choice question has no options")
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("correct index %d out of range", q.CorrectIndex)
		}
	case domain.KindFreeResponse:
	default:
		return fmt.Errorf("unknown question kind %q", q.Kind)
	}
	return nil
}
