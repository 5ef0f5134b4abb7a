package pipeline

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/vector2pgsql-go/internal/cleaner"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
	"github.com/wegman-software/vector2pgsql-go/internal/metrics"
	"github.com/wegman-software/vector2pgsql-go/internal/validator"
)

// Process exit codes
const (
	ExitOK         = 0
	ExitConfig     = 1
	ExitValidation = 2
	ExitCleaning   = 3
	ExitLoad       = 4
)

// Stage names a pipeline stage
type Stage string

const (
	StageNone       Stage = ""
	StageValidation Stage = "validation"
	StageCleaning   Stage = "cleaning"
	StageLoading    Stage = "loading"
)

// Mode is how far a run goes
type Mode string

const (
	ModeFull         Mode = "full"
	ModeValidateOnly Mode = "validate-only"
	ModeDryRun       Mode = "dry-run"
)

// CleaningSummary accumulates the results of every cleaning step of a run
type CleaningSummary struct {
	Skipped      []string `yaml:"skipped,omitempty"`
	FixedCount   int      `yaml:"fixed_count"`
	RemovedCount int      `yaml:"removed_count"`
	Reprojected  bool     `yaml:"reprojected"`
	Log          []string `yaml:"cleaning_log"`
	Warnings     []string `yaml:"warnings,omitempty"`
	Errors       []string `yaml:"errors,omitempty"`
	// FeaturesOut is the feature count handed to the loader
	FeaturesOut int `yaml:"features_out"`
}

func (s *CleaningSummary) add(r *cleaner.CleaningResult) {
	s.FixedCount += r.FixedCount
	s.RemovedCount += r.RemovedCount
	s.Reprojected = s.Reprojected || r.Reprojected
	s.Log = append(s.Log, r.Log...)
	s.Warnings = append(s.Warnings, r.Warnings...)
	s.Errors = append(s.Errors, r.Errors...)
	if r.Dataset != nil {
		s.FeaturesOut = r.Dataset.Len()
	}
}

// RunReport aggregates the stage results of one run
type RunReport struct {
	RunID       string    `yaml:"run_id"`
	InputFile   string    `yaml:"input_file"`
	InputBytes  int64     `yaml:"input_bytes,omitempty"`
	OutputTable string    `yaml:"output_table,omitempty"`
	Mode        Mode      `yaml:"mode"`
	StartedAt   time.Time `yaml:"started_at"`
	DurationSec float64   `yaml:"duration_seconds"`
	// StageSeconds is the wall time spent in each stage that ran
	StageSeconds map[Stage]float64 `yaml:"stage_seconds,omitempty"`

	Validation *validator.ValidationResult `yaml:"validation,omitempty"`
	Cleaning   *CleaningSummary            `yaml:"cleaning,omitempty"`
	Load       *loader.LoadResult          `yaml:"load,omitempty"`
	Warnings   []string                    `yaml:"warnings,omitempty"`
	Resources  *metrics.Summary            `yaml:"resources,omitempty"`

	FailedStage Stage  `yaml:"failed_stage,omitempty"`
	ErrorKind   string `yaml:"error_kind,omitempty"`
	Error       string `yaml:"error,omitempty"`

	// Err is the halting failure, nil on success
	Err error `yaml:"-"`
}

func (r *RunReport) fail(stage Stage, err error) *RunReport {
	r.FailedStage = stage
	r.Err = err
	r.ErrorKind = errors.Kind(err)
	r.Error = err.Error()
	return r
}

// Succeeded reports whether no stage halted the run
func (r *RunReport) Succeeded() bool {
	return r.FailedStage == StageNone
}

// ExitCode maps the failed stage to the process exit code
func (r *RunReport) ExitCode() int {
	switch r.FailedStage {
	case StageValidation:
		return ExitValidation
	case StageCleaning:
		return ExitCleaning
	case StageLoading:
		return ExitLoad
	}
	return ExitOK
}

// Summary is a one-paragraph description of the outcome: what failed, how
// many features or rows it affected and what persists.
func (r *RunReport) Summary() string {
	features := 0
	if r.Validation != nil {
		if n, ok := r.Validation.Metadata[validator.MetaFeatureCount].(int); ok {
			features = n
		}
	}

	switch r.FailedStage {
	case StageValidation:
		return fmt.Sprintf("Validation failed: %s. Nothing was cleaned or loaded.", r.Error)
	case StageCleaning:
		return fmt.Sprintf("Cleaning failed: %s. %d features were read; nothing was loaded.", r.Error, features)
	case StageLoading:
		rows := features
		if r.Cleaning != nil {
			rows = r.Cleaning.FeaturesOut
		}
		return fmt.Sprintf("Load failed: %s. 0 of %d rows committed; table %q was left in its previous state.",
			r.Error, rows, r.OutputTable)
	}

	var b strings.Builder
	switch r.Mode {
	case ModeValidateOnly:
		fmt.Fprintf(&b, "Validation passed: %d features", features)
		if r.Validation != nil {
			if n, ok := r.Validation.Metadata[validator.MetaInvalidCount].(int); ok && n > 0 {
				fmt.Fprintf(&b, ", %d invalid geometries", n)
			}
		}
		b.WriteString(".")
	case ModeDryRun:
		fmt.Fprintf(&b, "Dry run: %d features ready to load", r.Cleaning.FeaturesOut)
		b.WriteString(r.cleaningClause())
		b.WriteString(". Nothing was written to the database.")
	default:
		fmt.Fprintf(&b, "Loaded %d rows into %s", r.Load.RowsLoaded, r.OutputTable)
		b.WriteString(r.cleaningClause())
		if r.Load.IndexesCreated {
			b.WriteString("; spatial index ready")
		}
		fmt.Fprintf(&b, " in %s (%s).", FormatDuration(time.Duration(r.Load.LoadTimeSeconds*float64(time.Second))),
			FormatThroughput(float64(r.Load.RowsLoaded)/max(r.Load.LoadTimeSeconds, 1e-9)))
	}
	return b.String()
}

func (r *RunReport) cleaningClause() string {
	if r.Cleaning == nil {
		return ""
	}
	parts := []string{
		fmt.Sprintf("%d fixed", r.Cleaning.FixedCount),
		fmt.Sprintf("%d duplicates removed", r.Cleaning.RemovedCount),
	}
	if r.Cleaning.Reprojected {
		parts = append(parts, "reprojected")
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// WriteYAML writes the report to path
func (r *RunReport) WriteYAML(path string) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode run report")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "failed to write run report")
	}
	return nil
}
