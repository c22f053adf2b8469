// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"context"
	"io"
	"log/slog"
	"slices"
)

// SheetParser turns an uploaded spreadsheet or CSV into English species rows.
// Missing required columns are reported as *ValidationError.
type SheetParser interface {
	Parse(filename string, r io.Reader) ([]SpeciesFields, error)
}

// Translator translates English text to Tetum. Implementations decide their
// own retry policy; an empty result means no translation is available.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Ingester bulk-loads a species sheet: parse, translate, then one
// all-or-nothing bulk insert.
type Ingester struct {
	coord      *Coordinator
	parser     SheetParser
	translator Translator
	logger     *slog.Logger
	stages     *stageObserver
}

// IngestResult is the outcome of a sheet ingest
type IngestResult struct {
	BulkResult
	// Untranslated counts required Tetum fields that fell back to the English
	// text because translation returned nothing.
	Untranslated int
}

// NewIngester wires an ingester. The coordinator's instrumentation is reused.
func NewIngester(coord *Coordinator, parser SheetParser, translator Translator, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		coord:      coord,
		parser:     parser,
		translator: translator,
		logger:     logger,
		stages:     coord.stages,
	}
}

// Ingest parses the sheet, translates every row and inserts all rows in one
// bulk mutation. Nothing is written until every row is translated.
func (i *Ingester) Ingest(ctx context.Context, filename string, r io.Reader) (*IngestResult, error) {
	rows, err := i.parser.Parse(filename, r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &ValidationError{Message: "file contains no data rows"}
	}

	start := i.stages.start()
	pairs := make([]SpeciesPair, 0, len(rows))
	untranslated := 0
	for _, en := range rows {
		tet, fallbacks, err := i.TranslateSpecies(ctx, en)
		if err != nil {
			i.stages.observe(ctx, MetricsOpSpeciesBulk, MetricsStageTranslate, start, len(pairs), true)
			return nil, err
		}
		untranslated += fallbacks
		pairs = append(pairs, SpeciesPair{EN: en, TET: tet})
	}
	i.stages.observe(ctx, MetricsOpSpeciesBulk, MetricsStageTranslate, start, len(pairs), false)
	if untranslated > 0 {
		i.logger.Warn("Some required fields were not translated; English text kept", "fields", untranslated)
	}

	res, err := i.coord.BulkInsertSpecies(ctx, pairs)
	if err != nil {
		return nil, err
	}
	return &IngestResult{BulkResult: *res, Untranslated: untranslated}, nil
}

// TranslateSpecies produces the Tetum variant of en. The scientific name is
// never translated. A required field whose translation comes back empty keeps
// the English text; the number of such fields is returned.
func (i *Ingester) TranslateSpecies(ctx context.Context, en SpeciesFields) (SpeciesFields, int, error) {
	vals := en.Values()
	out := make(map[string]string, len(vals))
	fallbacks := 0
	for idx, col := range SpeciesColumns {
		src := vals[idx]
		if col == "scientific_name" {
			out[col] = src
			continue
		}
		translated, err := i.translator.Translate(ctx, src)
		if err != nil {
			return SpeciesFields{}, 0, err
		}
		if translated == "" && src != "" && slices.Contains(requiredSpeciesColumns, col) {
			translated = src
			fallbacks++
		}
		out[col] = translated
	}
	return SpeciesFieldsFromMap(out), fallbacks, nil
}
