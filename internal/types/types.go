package types

import (
	"fmt"
	"time"
)

// DayLayout is the date format of workflow and API parameters.
const DayLayout = "2006-01-02"

// ContractsParams selects the purchasing units of a ComprasNet run.
type ContractsParams struct {
	UASGs  []string `json:"uasgs"`
	DryRun bool     `json:"dry_run"`
	// WithChildren also refreshes every child dataset of the contracts the
	// run upserted.
	WithChildren bool `json:"with_children"`
}

// ChildrenParams selects contracts whose sub-resources are refreshed. When
// ContractIDs is empty, the unit's contracts still in their validity window
// are used.
type ChildrenParams struct {
	UASG        string   `json:"uasg"`
	ContractIDs []int64  `json:"contract_ids"`
	Kinds       []string `json:"kinds"` // historico|empenhos|itens|arquivos; empty means all
	DryRun      bool     `json:"dry_run"`
}

// PNCPParams drives the three PNCP stages.
type PNCPParams struct {
	From        string `json:"from"` // YYYY-MM-DD
	To          string `json:"to"`   // YYYY-MM-DD
	Modalidades []int  `json:"modalidades"`
	Force       bool   `json:"force"`
	Limit       int    `json:"limit"`
	DryRun      bool   `json:"dry_run"`
}

// Window parses From and To. To defaults to From.
func (p PNCPParams) Window() (from, to time.Time, err error) {
	if from, err = time.Parse(DayLayout, p.From); err != nil {
		return from, to, fmt.Errorf("from: %w", err)
	}
	if p.To == "" {
		return from, from, nil
	}
	if to, err = time.Parse(DayLayout, p.To); err != nil {
		return from, to, fmt.Errorf("to: %w", err)
	}
	if to.Before(from) {
		return from, to, fmt.Errorf("window ends before it starts: %s < %s", p.To, p.From)
	}
	return from, to, nil
}

// Scope names the window for locks and run records.
func (p PNCPParams) Scope() string {
	if p.To == "" || p.To == p.From {
		return p.From
	}
	return p.From + "_" + p.To
}

// InlabsParams selects one gazette edition.
type InlabsParams struct {
	Date     string   `json:"date"` // YYYY-MM-DD
	Sections []string `json:"sections"`
	DryRun   bool     `json:"dry_run"`
}

// RunStats is what every sync activity returns.
type RunStats struct {
	Pipeline   string   `json:"pipeline"`
	Stage      string   `json:"stage,omitempty"`
	Scope      string   `json:"scope"`
	Skipped    bool     `json:"skipped"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Requests   int      `json:"requests"`
	Fetched    int      `json:"fetched"`
	Processed  int      `json:"processed"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Failed     int      `json:"failed"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
	// ContractIDs lists the contracts a contracts run upserted.
	ContractIDs []int64 `json:"contract_ids,omitempty"`
}

// Merge adds o's counters to s.
func (s *RunStats) Merge(o RunStats) {
	s.Requests += o.Requests
	s.Fetched += o.Fetched
	s.Processed += o.Processed
	s.Created += o.Created
	s.Updated += o.Updated
	s.Failed += o.Failed
	s.Duplicates += o.Duplicates
	s.Errors = append(s.Errors, o.Errors...)
	s.ContractIDs = append(s.ContractIDs, o.ContractIDs...)
}

// PNCPResult is the outcome of a PNCP workflow, one entry per stage.
type PNCPResult struct {
	Stages []RunStats `json:"stages"`
}
