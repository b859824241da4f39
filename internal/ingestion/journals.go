package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/knoguchi/scholarag/internal/document"
	"github.com/knoguchi/scholarag/internal/repository"
)

// ReadJournals parses a journal registry export with the header
// issn,name,impact_factor. Rows with an invalid ISSN are reported in the
// returned error after all valid rows were read; an empty impact factor is
// stored as unknown.
func ReadJournals(r io.Reader) ([]repository.Journal, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"issn", "name"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("journal file has no %q column", required)
		}
	}
	ifCol, hasIF := cols["impact_factor"]

	var journals []repository.Journal
	var errs []error
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read journals: %w", err)
		}

		issn, err := document.FormatISSN(rec[cols["issn"]])
		if err != nil || issn == "" || strings.Contains(issn, " ") {
			errs = append(errs, fmt.Errorf("line %d: invalid ISSN %q", line, rec[cols["issn"]]))
			continue
		}

		j := repository.Journal{ISSN: issn, Name: strings.TrimSpace(rec[cols["name"]])}
		if hasIF {
			if v := strings.TrimSpace(rec[ifCol]); v != "" {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					errs = append(errs, fmt.Errorf("line %d: invalid impact factor %q", line, v))
					continue
				}
				j.ImpactFactor = &f
			}
		}
		journals = append(journals, j)
	}
	return journals, errors.Join(errs...)
}
