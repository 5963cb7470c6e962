package commands

import (
	"caselist-scout/internal/checkpoint"
	"caselist-scout/internal/export"
	"fmt"
)

func loadArtifacts(cfg Config) (export.Artifacts, error) {
	store, err := checkpoint.NewStore(cfg.Checkpoint, tel)
	if err != nil {
		return export.Artifacts{}, err
	}
	index, err := store.LoadIndex()
	if err != nil {
		return export.Artifacts{}, fmt.Errorf("load index: %w", err)
	}
	results, err := store.LoadResults()
	if err != nil {
		return export.Artifacts{}, fmt.Errorf("load results: %w", err)
	}
	errs, err := store.LoadErrors()
	if err != nil {
		return export.Artifacts{}, fmt.Errorf("load errors: %w", err)
	}
	return export.Artifacts{
		Index:   index,
		Results: results,
		Errors:  errs,
	}, nil
}
