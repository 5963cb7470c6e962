// Package checkpoint persists the artifacts of a run as JSON files that are
// always replaced whole, a reader never observes a partially written file.
package checkpoint

import (
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pipeline"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrCheckpoint = errors.New("checkpoint failed")

const (
	report_store_load = "checkpoint.load"
	report_store_save = "checkpoint.save"
)

type Options struct {
	Dir         string `json:"dir"`
	IndexFile   string `json:"index_file"`
	ResultsFile string `json:"results_file"`
	ErrorsFile  string `json:"errors_file"`
}

// DefaultOptions uses the file names the artifacts have always had.
func DefaultOptions() Options {
	return Options{
		Dir:         ".",
		IndexFile:   "round_count_map.json",
		ResultsFile: "data.json",
		ErrorsFile:  "scrape_errors.json",
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.Dir == "" {
		o.Dir = defaults.Dir
	}
	if o.IndexFile == "" {
		o.IndexFile = defaults.IndexFile
	}
	if o.ResultsFile == "" {
		o.ResultsFile = defaults.ResultsFile
	}
	if o.ErrorsFile == "" {
		o.ErrorsFile = defaults.ErrorsFile
	}
	return o
}

// Store implements pipeline.Checkpointer on top of a directory.
type Store struct {
	options Options
	tel     telemetry.API
}

func NewStore(options Options, tel telemetry.API) (Store, error) {
	options = options.withDefaults()
	err := os.MkdirAll(options.Dir, 0755)
	if err != nil {
		return Store{}, fmt.Errorf("%w: create %s: %w", ErrCheckpoint, options.Dir, err)
	}
	return Store{
		options: options,
		tel:     telemetry.NewScopedAPI("checkpoint", tel),
	}, nil
}

func (s Store) IndexPath() string {
	return filepath.Join(s.options.Dir, s.options.IndexFile)
}

func (s Store) ResultsPath() string {
	return filepath.Join(s.options.Dir, s.options.ResultsFile)
}

func (s Store) ErrorsPath() string {
	return filepath.Join(s.options.Dir, s.options.ErrorsFile)
}

// load decodes path into out, a missing file leaves out untouched.
func (s Store) load(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.tel.ReportDebug("no checkpoint yet", path)
		return nil
	}
	if err != nil {
		s.tel.ReportBroken(report_store_load, err, path)
		return fmt.Errorf("%w: read %s: %w", ErrCheckpoint, path, err)
	}
	err = json.Unmarshal(data, out)
	if err != nil {
		s.tel.ReportBroken(report_store_load, err, path)
		return fmt.Errorf("%w: decode %s: %w", ErrCheckpoint, path, err)
	}
	return nil
}

func (s Store) save(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, path)
		return fmt.Errorf("%w: encode %s: %w", ErrCheckpoint, path, err)
	}
	err = writeAtomic(path, data)
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, path)
		return fmt.Errorf("%w: write %s: %w", ErrCheckpoint, path, err)
	}
	return nil
}

func (s Store) LoadIndex() (pipeline.Index, error) {
	index := pipeline.Index{}
	err := s.load(s.IndexPath(), &index)
	if err != nil {
		return nil, err
	}
	if index == nil {
		index = pipeline.Index{}
	}
	return index, nil
}

func (s Store) SaveIndex(index pipeline.Index) error {
	return s.save(s.IndexPath(), index)
}

func (s Store) LoadResults() (*pipeline.ResultSet, error) {
	results := pipeline.NewResultSet()
	err := s.load(s.ResultsPath(), results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s Store) SaveResults(results *pipeline.ResultSet) error {
	return s.save(s.ResultsPath(), results)
}

func (s Store) LoadErrors() (*pipeline.ErrorLog, error) {
	errs := pipeline.NewErrorLog()
	err := s.load(s.ErrorsPath(), errs)
	if err != nil {
		return nil, err
	}
	return errs, nil
}

func (s Store) SaveErrors(errs *pipeline.ErrorLog) error {
	return s.save(s.ErrorsPath(), errs)
}

// writeAtomic writes data next to path and moves it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	err = tmp.Sync()
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	err = osReplace(tmpPath, path)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// best effort
	_ = syncDir(dir)
	return nil
}
