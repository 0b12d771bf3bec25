// Package dataset loads and generates stimulus and response batches. Rows are
// samples, columns are timepoints.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DefaultDelimiter separates values in data files unless configured
// otherwise.
const DefaultDelimiter = ' '

var ErrRaggedRows = errors.New("rows have differing numbers of timepoints")

// Batch is a fitting batch: one stimulus row per observed response row.
type Batch struct {
	Stimuli    *mat.Dense
	Observed   *mat.Dense
	SampleRate float64
}

func (b Batch) Validate() error {
	if b.Stimuli == nil || b.Observed == nil {
		return errors.New("stimuli and observed responses are required")
	}
	sr, sc := b.Stimuli.Dims()
	or, oc := b.Observed.Dims()
	if sr != or || sc != oc {
		return fmt.Errorf("stimuli are %dx%d but observed responses are %dx%d", sr, sc, or, oc)
	}
	if !(b.SampleRate > 0) || math.IsInf(b.SampleRate, 1) {
		return fmt.Errorf("sample rate must be > 0 (got %g)", b.SampleRate)
	}
	return nil
}

// ParseDelimiter maps a configured delimiter name to a rune. Empty means
// DefaultDelimiter.
func ParseDelimiter(name string) (rune, error) {
	switch strings.ToLower(name) {
	case "", "space", " ":
		return DefaultDelimiter, nil
	case "tab", `\t`, "\t":
		return '\t', nil
	case "comma", ",":
		return ',', nil
	case "semicolon", ";":
		return ';', nil
	default:
		return 0, fmt.Errorf("unsupported delimiter: %q", name)
	}
}

// LoadMatrix reads a delimited numeric table from path.
func LoadMatrix(path string, delimiter rune) (*mat.Dense, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("data file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadMatrix(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadMatrix parses a delimited numeric table. A leading row with any
// non-numeric cell is treated as a header and skipped. An all-numeric first
// row is kept as data, so headerless files lose no sample; loaders that
// always drop row 0 will read one fewer row from such files. Blank lines are
// ignored; space delimited input tolerates runs of spaces.
func ReadMatrix(in io.Reader, delimiter rune) (*mat.Dense, error) {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	records, err := readRecords(in, delimiter)
	if err != nil {
		return nil, err
	}

	var rows [][]float64
	for i, record := range records {
		row, err := parseRow(record)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrRaggedRows, i+1, len(row), len(rows[0]))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no numeric rows")
	}
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	return out, nil
}

func readRecords(in io.Reader, delimiter rune) ([][]string, error) {
	if delimiter == ' ' {
		var records [][]string
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) > 0 {
				records = append(records, fields)
			}
		}
		return records, scanner.Err()
	}

	reader := csv.NewReader(in)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read delimited row %d: %w", len(records)+1, err)
		}
		if blankRecord(record) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func parseRow(record []string) ([]float64, error) {
	row := make([]float64, len(record))
	for j, raw := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", j+1, err)
		}
		row[j] = v
	}
	return row, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// WriteMatrix writes m to path as a delimited table, creating parent
// directories as needed.
func WriteMatrix(path string, m mat.Matrix, delimiter rune) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("data file path is required")
	}
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = delimiter
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Step returns a stimulus of length n that is amplitude on [onset, offset)
// and zero elsewhere.
func Step(n, onset, offset int, amplitude float64) []float64 {
	out := make([]float64, n)
	if onset < 0 {
		onset = 0
	}
	for i := onset; i < offset && i < n; i++ {
		out[i] = amplitude
	}
	return out
}

// Pulses returns a unit stimulus of length n with one pulse of width samples
// starting at each onset.
func Pulses(n int, onsets []int, width int) []float64 {
	out := make([]float64, n)
	for _, onset := range onsets {
		for i := max(onset, 0); i < onset+width && i < n; i++ {
			out[i] = 1
		}
	}
	return out
}

// Repeat stacks rows copies of stim into a batch matrix. rows and len(stim)
// must be positive.
func Repeat(stim []float64, rows int) *mat.Dense {
	out := mat.NewDense(rows, len(stim), nil)
	for i := 0; i < rows; i++ {
		out.SetRow(i, stim)
	}
	return out
}
