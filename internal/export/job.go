package export

import "github.com/rs/zerolog"

// Job adapts the exporter to the scheduler's job interface.
type Job struct {
	exporter *Exporter
	log      zerolog.Logger
}

// NewJob creates a scheduled export job.
func NewJob(exporter *Exporter, log zerolog.Logger) *Job {
	return &Job{
		exporter: exporter,
		log:      log.With().Str("job", "excel_export").Logger(),
	}
}

// Name returns the job name.
func (j *Job) Name() string {
	return "excel_export"
}

// Run writes a fresh workbook.
func (j *Job) Run() error {
	path, err := j.exporter.Export()
	if err != nil {
		return err
	}
	j.log.Info().Str("path", path).Msg("Scheduled export complete")
	return nil
}
