package docpipe

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// openXlsx reads workbook properties up front and streams sheets row by
// row. Cells are tab separated; each sheet starts with its name.
func openXlsx(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	f, err := excelize.OpenReader(in.reader())
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}

	if p, err := f.GetDocProps(); err == nil {
		meta.add("dc:title", p.Title)
		meta.add("dc:creator", p.Creator)
		meta.add("dc:subject", p.Subject)
		meta.add("dc:description", p.Description)
		meta.add("meta:keyword", splitKeywords(p.Keywords)...)
		meta.add("dc:language", p.Language)
		meta.add("meta:last-author", p.LastModifiedBy)
		meta.add("dcterms:created", p.Created)
		meta.add("dcterms:modified", p.Modified)
		meta.add("cp:revision", p.Revision)
		meta.add("cp:category", p.Category)
	} else {
		cfg.logger.Warn("docpipe: workbook core properties unreadable", "extraction_id", cfg.id, "error", err)
	}
	if p, err := f.GetAppProps(); err == nil {
		meta.add("extended-properties:Application", p.Application)
		meta.add("extended-properties:AppVersion", p.AppVersion)
		meta.add("extended-properties:Company", p.Company)
	}
	meta.add("meta:sheet-count", fmt.Sprint(len(sheets)))
	meta.add("xlsx:sheet-name", sheets...)

	return func(ctx context.Context, emit emitFunc) error {
		defer f.Close()
		for _, name := range sheets {
			if err := streamSheet(ctx, f, name, cfg.office.IncludeMissingRows, emit); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func streamSheet(ctx context.Context, f *excelize.File, sheet string, missingRows bool, emit emitFunc) error {
	rows, err := f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	if err := emit(Chunk{Text: sheet + "\n", Element: "h1", Class: "sheet"}); err != nil {
		return err
	}
	// Empty rows are held back so that trailing ones are never emitted.
	pending := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("sheet %q: %w", sheet, err)
		}
		for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
		if len(cells) == 0 {
			pending++
			continue
		}
		if missingRows {
			for ; pending > 0; pending-- {
				if err := emit(Chunk{Text: "\n", Element: "tr"}); err != nil {
					return err
				}
			}
		}
		pending = 0
		if err := emit(Chunk{Text: strings.Join(cells, "\t") + "\n", Element: "tr"}); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("sheet %q: %w", sheet, err)
	}
	return nil
}
