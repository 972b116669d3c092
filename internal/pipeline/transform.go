package pipeline

import (
	"fmt"
	"time"

	"github.com/couchcryptid/field-survey-etl/internal/domain"
)

const (
	stageIngest  = "ingest"
	stageRename  = "rename"
	stageCorrect = "correct"
)

// Stage is the furthest pipeline step a batch has completed.
type Stage int

const (
	StageUnpopulated Stage = iota
	StageIngested
	StageRenamed
	StageCorrected
)

func (s Stage) String() string {
	switch s {
	case StageUnpopulated:
		return "unpopulated"
	case StageIngested:
		return "ingested"
	case StageRenamed:
		return "renamed"
	case StageCorrected:
		return "corrected"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Batch is one run's working table together with the connection it was read
// from. Stages mutate Table in place.
type Batch struct {
	RunID       string
	Table       *domain.Table
	Stage       Stage
	IngestedAt  time.Time
	CorrectedAt time.Time

	conn Querier
}

// Close releases the database connection held by the batch. It is safe to
// call more than once.
func (b *Batch) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *Batch) expect(stage Stage, op string) error {
	if b == nil || b.Table == nil {
		return fmt.Errorf("%s: %w", op, ErrTableNotLoaded)
	}
	if b.Stage != stage {
		return fmt.Errorf("%s: %w: batch is %s, want %s", op, ErrStageOrder, b.Stage, stage)
	}
	return nil
}

type correction struct {
	valueColumn string
	absColumn   string
}

// CorrectionOption overrides a correction target for one ApplyCorrections call.
type CorrectionOption func(*correction)

// WithValueColumn sets the column whose values are remapped.
func WithValueColumn(name string) CorrectionOption {
	return func(c *correction) { c.valueColumn = name }
}

// WithAbsColumn sets the column replaced by its absolute value.
func WithAbsColumn(name string) CorrectionOption {
	return func(c *correction) { c.absColumn = name }
}

// ApplyCorrections takes the absolute value of the abs column and remaps the
// value column through the configured lookup. Unmapped values pass through.
// Both columns are checked before anything is written.
func (p *Processor) ApplyCorrections(b *Batch, opts ...CorrectionOption) error {
	if err := b.expect(StageRenamed, "apply corrections"); err != nil {
		return err
	}
	c := correction{
		valueColumn: p.settings.ValueColumn,
		absColumn:   p.settings.AbsColumn,
	}
	for _, opt := range opts {
		opt(&c)
	}

	start := time.Now()
	if err := p.correct(b.Table, c); err != nil {
		p.metrics.StageErrors.WithLabelValues(stageCorrect).Inc()
		return err
	}

	b.Stage = StageCorrected
	b.CorrectedAt = domain.Now()
	p.observe(stageCorrect, start)
	p.logger.Debug("corrections applied",
		"abs_column", c.absColumn,
		"value_column", c.valueColumn,
		"mappings", len(p.settings.ValuesToRename),
	)
	return nil
}

func (p *Processor) correct(tbl *domain.Table, c correction) error {
	for _, name := range []string{c.absColumn, c.valueColumn} {
		if !tbl.Has(name) {
			return fmt.Errorf("apply corrections: %w: %q", domain.ErrColumnNotFound, name)
		}
	}
	if err := tbl.AbsColumn(c.absColumn); err != nil {
		return err
	}
	return tbl.RemapValues(c.valueColumn, p.settings.ValuesToRename)
}
