// Package seed loads reference spreadsheets (exam questions, sanctioned
// companies) into Postgres through gorm. It only runs when asked to, from the
// procsync seed command; migrations never load data.
package seed

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourorg/procurement-sync/internal/iopkg"
	"github.com/yourorg/procurement-sync/internal/models"
	"github.com/yourorg/procurement-sync/internal/normalize"
	"github.com/yourorg/procurement-sync/internal/storage"
)

// Target names one fixture set.
type Target string

const (
	Questions Target = "questions"
	Sanctions Target = "sanctions"
)

// AllTargets is what Load runs when no target is named.
var AllTargets = []Target{Questions, Sanctions}

// DefaultFiles are looked up under Loader.Dir.
var DefaultFiles = map[Target]string{
	Questions: "questoes.xlsx",
	Sanctions: "sancoes.csv",
}

const defaultBatchSize = 500

// Result counts one target's rows.
type Result struct {
	Target   Target   `json:"target"`
	Source   string   `json:"source"`
	Rows     int      `json:"rows"`
	Upserted int      `json:"upserted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Loader reads fixtures from Dir (a local path, file:// or s3:// prefix).
// Files overrides the file used for a target; an override may be a full URI.
type Loader struct {
	DB    *gorm.DB
	Dir   string
	Files map[Target]string
	// BatchSize is the number of rows per INSERT; zero means 500.
	BatchSize int
	Log       *zap.Logger
}

// Migrate creates or updates the seed tables.
func (l *Loader) Migrate(ctx context.Context) error {
	return l.DB.WithContext(ctx).AutoMigrate(models.All()...)
}

// Source resolves the URI a target is read from.
func (l *Loader) Source(t Target) string {
	name, ok := l.Files[t]
	if !ok {
		name = DefaultFiles[t]
	}
	if strings.Contains(name, "://") || path.IsAbs(name) {
		return name
	}
	return storage.Join(l.Dir, name)
}

// Load migrates the seed tables and loads each target in order. Bad rows are
// counted and reported in the result; read or database errors stop that
// target and are returned joined.
func (l *Loader) Load(ctx context.Context, targets ...Target) ([]Result, error) {
	if l.DB == nil {
		return nil, errors.New("seed: no database")
	}
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	if len(targets) == 0 {
		targets = AllTargets
	}
	if err := l.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("seed migrate: %w", err)
	}

	var (
		out  []Result
		errs []error
	)
	for _, t := range targets {
		res, err := l.load(ctx, t)
		out = append(out, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", t, err))
			log.Error("seed failed", zap.String("target", string(t)), zap.String("source", res.Source), zap.Error(err))
			continue
		}
		log.Info("seed loaded",
			zap.String("target", string(t)),
			zap.String("source", res.Source),
			zap.Int("rows", res.Rows),
			zap.Int("upserted", res.Upserted),
			zap.Int("rejected", res.Rejected))
	}
	return out, errors.Join(errs...)
}

func (l *Loader) load(ctx context.Context, t Target) (Result, error) {
	res := Result{Target: t, Source: l.Source(t)}
	if _, ok := DefaultFiles[t]; !ok {
		return res, fmt.Errorf("unknown target %q", t)
	}
	b, err := iopkg.ReadAll(ctx, res.Source)
	if err != nil {
		return res, err
	}
	rows, err := readTable(res.Source, b)
	if err != nil {
		return res, err
	}
	if len(rows) == 0 {
		return res, nil
	}
	h, body := newHeader(rows[0]), rows[1:]
	res.Rows = len(body)

	db := l.DB.WithContext(ctx)
	batch := l.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	switch t {
	case Questions:
		qs := parseRows(body, &res, func(row []string) (models.Question, error) { return questionFromRow(h, row) })
		if len(qs) == 0 {
			return res, nil
		}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "statement", "subject", "board", "year", "payload", "updated_at", "deleted_at"}),
		}).CreateInBatches(&qs, batch).Error
		if err == nil {
			res.Upserted = len(qs)
		}
	case Sanctions:
		if !h.has(cnpjCols...) {
			return res, errors.New("sanctions sheet has no cnpj column")
		}
		ss := parseRows(body, &res, func(row []string) (models.SanctionedCompany, error) { return sanctionFromRow(h, row) })
		if len(ss) == 0 {
			return res, nil
		}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cnpj"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "sanction", "authority", "start_date", "end_date", "updated_at"}),
		}).CreateInBatches(&ss, batch).Error
		if err == nil {
			res.Upserted = len(ss)
		}
	}
	return res, err
}

// parseRows converts body rows, recording rejects in res. A key seen twice
// keeps its last row, as the upsert would.
func parseRows[T any](body [][]string, res *Result, conv func([]string) (T, error)) []T {
	out := make([]T, 0, len(body))
	index := make(map[string]int, len(body))
	for i, row := range body {
		v, err := conv(row)
		if err != nil {
			res.Rejected++
			// +2: one for the header, one for 1-based rows.
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		k := keyOf(v)
		if j, ok := index[k]; ok {
			out[j] = v
			continue
		}
		index[k] = len(out)
		out = append(out, v)
	}
	return out
}

func keyOf(v any) string {
	switch m := v.(type) {
	case models.Question:
		return m.ExternalID
	case models.SanctionedCompany:
		return m.CNPJ
	}
	return fmt.Sprint(v)
}

var (
	idCols        = []string{"id", "codigo", "código", "external_id"}
	kindCols      = []string{"tipo", "kind", "type"}
	statementCols = []string{"enunciado", "statement", "pergunta"}
	subjectCols   = []string{"disciplina", "assunto", "subject"}
	boardCols     = []string{"banca", "board"}
	yearCols      = []string{"ano", "year"}
	optionsCols   = []string{"alternativas", "options"}
	answerCols    = []string{"gabarito", "resposta", "answer"}
	leftCols      = []string{"coluna_a", "left"}
	rightCols     = []string{"coluna_b", "right"}
)

func questionFromRow(h header, row []string) (models.Question, error) {
	q := models.Question{
		ExternalID: h.get(row, idCols...),
		Statement:  h.get(row, statementCols...),
		Subject:    h.get(row, subjectCols...),
		Board:      h.get(row, boardCols...),
	}
	if q.ExternalID == "" {
		return q, errors.New("missing id")
	}
	if q.Statement == "" {
		return q, errors.New("missing statement")
	}
	if y := h.get(row, yearCols...); y != "" {
		n, ok := normalize.ParseInt(y)
		if !ok {
			return q, fmt.Errorf("bad year %q", y)
		}
		q.Year = int(n)
	}
	kind, err := models.ParseQuestionKind(h.get(row, kindCols...))
	if err != nil {
		return q, err
	}
	answer := h.get(row, answerCols...)

	var body models.QuestionBody
	switch kind {
	case models.KindMultiple:
		opts := splitList(h.get(row, optionsCols...))
		idx, err := optionIndex(answer, len(opts))
		if err != nil {
			return q, err
		}
		body = models.MultipleChoice{Options: opts, Answer: idx}
	case models.KindTrueFalse:
		switch strings.ToLower(answer) {
		case "c", "certo", "v", "verdadeiro", "true":
			body = models.TrueFalse{Answer: true}
		case "e", "errado", "f", "falso", "false":
			body = models.TrueFalse{Answer: false}
		default:
			return q, fmt.Errorf("bad true/false answer %q", answer)
		}
	case models.KindCorrelation:
		c := models.Correlation{
			Left:  splitList(h.get(row, leftCols...)),
			Right: splitList(h.get(row, rightCols...)),
			Pairs: map[int]int{},
		}
		for _, p := range strings.Split(answer, ";") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			l, r, ok := strings.Cut(p, "-")
			if !ok {
				return q, fmt.Errorf("bad pair %q", p)
			}
			li, err := strconv.Atoi(strings.TrimSpace(l))
			if err != nil {
				return q, fmt.Errorf("bad pair %q", p)
			}
			ri, err := optionIndex(strings.TrimSpace(r), len(c.Right))
			if err != nil {
				return q, err
			}
			c.Pairs[li-1] = ri
		}
		body = c
	}
	return q, q.SetBody(body)
}

// optionIndex reads an answer given as a letter (A, b) or a 1-based number.
func optionIndex(s string, n int) (int, error) {
	s = strings.TrimSpace(s)
	var idx int
	switch {
	case len(s) == 1 && s[0] >= 'a' && s[0] <= 'z':
		idx = int(s[0] - 'a')
	case len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z':
		idx = int(s[0] - 'A')
	default:
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("bad answer %q", s)
		}
		idx = v - 1
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("answer %q out of range for %d options", s, n)
	}
	return idx, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	cnpjCols      = []string{"cnpj", "cpf_cnpj", "cnpj_sancionado"}
	nameCols      = []string{"razao_social", "razão_social", "nome", "name"}
	sanctionCols  = []string{"sancao", "sanção", "tipo_sancao", "tipo_sanção", "sanction"}
	authorityCols = []string{"orgao", "órgão", "orgao_sancionador", "órgão_sancionador", "authority"}
	startCols     = []string{"data_inicio", "data_início", "inicio", "start_date"}
	endCols       = []string{"data_fim", "data_final", "fim", "end_date"}
)

func sanctionFromRow(h header, row []string) (models.SanctionedCompany, error) {
	s := models.SanctionedCompany{
		CNPJ:      normalize.OnlyDigits(h.get(row, cnpjCols...)),
		Name:      normalize.Truncate(nil, h.get(row, nameCols...), 255),
		Sanction:  normalize.Truncate(nil, h.get(row, sanctionCols...), 255),
		Authority: normalize.Truncate(nil, h.get(row, authorityCols...), 255),
		StartDate: datePtr(h.get(row, startCols...)),
		EndDate:   datePtr(h.get(row, endCols...)),
	}
	if len(s.CNPJ) != 14 {
		return s, fmt.Errorf("bad cnpj %q", h.get(row, cnpjCols...))
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return s, errors.New("sanction ends before it starts")
	}
	return s, nil
}

func datePtr(s string) *time.Time {
	t, ok := normalize.ParseDate(s)
	if !ok {
		return nil
	}
	t = normalize.DateOnly(t)
	return &t
}
