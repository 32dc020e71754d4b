// Package models holds the gorm models for reference data loaded by the seed
// command. Synced procurement records live in internal/records and are
// written through pgx, not gorm.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yourorg/procurement-sync/internal/normalize"
)

// QuestionKind tags which payload a Question carries.
type QuestionKind string

const (
	KindMultiple    QuestionKind = "multiple"
	KindTrueFalse   QuestionKind = "true_false"
	KindCorrelation QuestionKind = "correlation"
)

// ParseQuestionKind accepts the canonical names and the Portuguese labels
// used in the question spreadsheets.
func ParseQuestionKind(s string) (QuestionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multiple", "multipla", "múltipla", "multipla_escolha", "múltipla escolha":
		return KindMultiple, nil
	case "true_false", "certo_errado", "certo/errado", "ce", "vf":
		return KindTrueFalse, nil
	case "correlation", "correlacao", "correlação", "associacao", "associação":
		return KindCorrelation, nil
	}
	return "", fmt.Errorf("unknown question kind %q", s)
}

// Question is one exam question. Fields shared by every kind are columns;
// the per-kind part is stored as JSON in Payload.
type Question struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	ExternalID string         `json:"external_id" gorm:"uniqueIndex;size:64;not null"`
	Kind       QuestionKind   `json:"kind" gorm:"size:16;not null"`
	Statement  string         `json:"statement" gorm:"type:text;not null"`
	Subject    string         `json:"subject,omitempty" gorm:"size:128;index"`
	Board      string         `json:"board,omitempty" gorm:"size:64"`
	Year       int            `json:"year,omitempty"`
	Payload    string         `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// QuestionBody is the kind-specific part of a Question.
type QuestionBody interface {
	Kind() QuestionKind
	validate() error
}

type MultipleChoice struct {
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

func (MultipleChoice) Kind() QuestionKind { return KindMultiple }

func (m MultipleChoice) validate() error {
	if len(m.Options) < 2 {
		return errors.New("multiple choice needs at least two options")
	}
	if m.Answer < 0 || m.Answer >= len(m.Options) {
		return fmt.Errorf("answer %d out of range for %d options", m.Answer, len(m.Options))
	}
	return nil
}

type TrueFalse struct {
	Answer bool `json:"answer"`
}

func (TrueFalse) Kind() QuestionKind { return KindTrueFalse }
func (TrueFalse) validate() error    { return nil }

// Correlation pairs every entry of Left with an entry of Right. Pairs maps a
// Left index to a Right index.
type Correlation struct {
	Left  []string    `json:"left"`
	Right []string    `json:"right"`
	Pairs map[int]int `json:"pairs"`
}

func (Correlation) Kind() QuestionKind { return KindCorrelation }

func (c Correlation) validate() error {
	if len(c.Left) == 0 || len(c.Right) == 0 {
		return errors.New("correlation needs both columns")
	}
	for l, r := range c.Pairs {
		if l < 0 || l >= len(c.Left) || r < 0 || r >= len(c.Right) {
			return fmt.Errorf("pair %d-%d out of range", l, r)
		}
	}
	return nil
}

// SetBody validates b and stores it as the question's payload and kind.
func (q *Question) SetBody(b QuestionBody) error {
	if b == nil {
		return errors.New("question body is nil")
	}
	if err := b.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	q.Kind = b.Kind()
	q.Payload = string(raw)
	return nil
}

// Body decodes Payload according to Kind.
func (q Question) Body() (QuestionBody, error) {
	var b QuestionBody
	switch q.Kind {
	case KindMultiple:
		var m MultipleChoice
		if err := json.Unmarshal([]byte(q.Payload), &m); err != nil {
			return nil, err
		}
		b = m
	case KindTrueFalse:
		var t TrueFalse
		if err := json.Unmarshal([]byte(q.Payload), &t); err != nil {
			return nil, err
		}
		b = t
	case KindCorrelation:
		var c Correlation
		if err := json.Unmarshal([]byte(q.Payload), &c); err != nil {
			return nil, err
		}
		b = c
	default:
		return nil, fmt.Errorf("unknown question kind %q", q.Kind)
	}
	return b, b.validate()
}

func (q *Question) BeforeSave(tx *gorm.DB) error {
	q.ExternalID = strings.TrimSpace(q.ExternalID)
	if q.ExternalID == "" {
		return errors.New("question without external id")
	}
	if _, err := q.Body(); err != nil {
		return fmt.Errorf("question %s: %w", q.ExternalID, err)
	}
	return nil
}

// SanctionedCompany is a company barred from contracting, keyed by CNPJ.
type SanctionedCompany struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	CNPJ      string     `json:"cnpj" gorm:"uniqueIndex;size:14;not null"`
	Name      string     `json:"name" gorm:"size:255"`
	Sanction  string     `json:"sanction,omitempty" gorm:"size:255"`
	Authority string     `json:"authority,omitempty" gorm:"size:255"`
	StartDate *time.Time `json:"start_date,omitempty" gorm:"type:date"`
	EndDate   *time.Time `json:"end_date,omitempty" gorm:"type:date"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (s *SanctionedCompany) BeforeSave(tx *gorm.DB) error {
	s.CNPJ = normalize.OnlyDigits(s.CNPJ)
	if len(s.CNPJ) != 14 {
		return fmt.Errorf("invalid cnpj %q", s.CNPJ)
	}
	return nil
}

// Active reports whether the sanction covers day.
func (s SanctionedCompany) Active(day time.Time) bool {
	d := normalize.DateOnly(day)
	if s.StartDate != nil && d.Before(normalize.DateOnly(*s.StartDate)) {
		return false
	}
	return s.EndDate == nil || !d.After(normalize.DateOnly(*s.EndDate))
}

// All lists the seed models for AutoMigrate.
func All() []any {
	return []any{&Question{}, &SanctionedCompany{}}
}
