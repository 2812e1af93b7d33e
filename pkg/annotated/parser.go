// Package annotated decodes a header-annotated, comma-separated record
// stream into typed records. Every data line is interpreted through the
// column index of the most recently completed 4-line annotation block
// (group, datatype, default, columns); structural violations abort the
// stream with a classified error.
package annotated

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Annotation role markers. The first field of header lines 1-3 must match
// these exactly; the 4th line names the columns and carries no marker.
const (
	markerGroup    = "#group"
	markerDatatype = "#datatype"
	markerDefault  = "#default"
)

// Required column names. Absence of either is fatal.
const (
	ColMeasurement = "_measurement"
	ColTime        = "_time"
)

// State identifies the parser's position in the annotation block protocol.
type State uint8

const (
	// ExpectGroup means the next header line must carry the #group marker.
	ExpectGroup State = iota
	// ExpectDatatype means the next line must carry the #datatype marker.
	ExpectDatatype
	// ExpectDefault means the next line must carry the #default marker.
	ExpectDefault
	// ExpectColumns means the next line names the columns of the block.
	ExpectColumns
	// Data means a block is live and non-marker lines are data records.
	Data
)

func (s State) String() string {
	switch s {
	case ExpectGroup:
		return "expect_group"
	case ExpectDatatype:
		return "expect_datatype"
	case ExpectDefault:
		return "expect_default"
	case ExpectColumns:
		return "expect_columns"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// ColumnIndex maps a column name to its position in data lines.
type ColumnIndex map[string]int

// Block is one complete 4-line annotation block. A block is live from the
// moment its columns line is read until superseded by the next block.
// Version increments with every completed block so downstream consumers can
// detect a schema change mid-stream.
type Block struct {
	Lines   [4]string
	Columns ColumnIndex
	Version int
}

// Record is one data line interpreted through the live block's columns.
// Raw preserves the line exactly as read (without its line ending).
type Record struct {
	Raw          string
	Measurement  string
	Time         string
	BlockVersion int
	Line         int
}

// Period returns the year-month truncation of the record's time (YYYY-MM).
func (r *Record) Period() string {
	if len(r.Time) < 7 {
		return r.Time
	}
	return r.Time[:7]
}

// Parser is a pull-based decoder over an annotated record stream. It is a
// pure transform: no side effects beyond internal counters.
type Parser struct {
	r       *bufio.Reader
	scanner *LineScanner
	state   State
	pending [4]string
	live    *Block
	line    int
	version int
	done    bool
}

// NewParser wraps r. The stream may use either line-ending convention.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		r:       bufio.NewReaderSize(r, 64*1024),
		scanner: NewLineScanner(','),
		state:   ExpectGroup,
	}
}

// Block returns the currently live annotation block, or nil before the
// first block has completed.
func (p *Parser) Block() *Block {
	return p.live
}

// Next returns the next data record paired with the live block version, or
// io.EOF at clean end of stream, or a *StructuralError on violation.
// Once an error is returned the parser stays terminated.
func (p *Parser) Next() (*Record, error) {
	if p.done {
		return nil, io.EOF
	}

	for {
		raw, readErr := p.r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			p.done = true
			return nil, fmt.Errorf("annotated: read input: %w", readErr)
		}
		atEOF := readErr == io.EOF

		line := trimLineEnding(raw)
		if len(raw) > 0 {
			p.line++
		}

		if strings.TrimSpace(line) == "" {
			// Blank lines neither reset the block counter nor count as data.
			if atEOF {
				p.done = true
				return nil, p.finish()
			}
			continue
		}

		rec, err := p.consume(line)
		if err != nil {
			p.done = true
			return nil, err
		}
		if rec != nil {
			if atEOF {
				p.done = true
			}
			return rec, nil
		}
		if atEOF {
			p.done = true
			return nil, p.finish()
		}
	}
}

// finish validates end-of-stream state. A stream ending inside an
// incomplete block is a shape violation.
func (p *Parser) finish() error {
	if p.state != Data && p.state != ExpectGroup {
		return &StructuralError{
			Class: ClassBlockShape,
			Line:  p.line,
			Msg:   fmt.Sprintf("stream ended inside annotation block (state %s)", p.state),
		}
	}
	return io.EOF
}

// consume advances the state machine by one non-blank line. It returns a
// record when the line was a valid data line, nil when the line was part of
// an annotation block.
func (p *Parser) consume(line string) (*Record, error) {
	isMarker := strings.HasPrefix(line, "#")

	switch p.state {
	case ExpectGroup, Data:
		if isMarker {
			if first := p.firstField(line); first != markerGroup {
				return nil, &StructuralError{
					Class: ClassUnknownHeader,
					Line:  p.line,
					Raw:   line,
					Msg:   fmt.Sprintf("expected %s marker, got %q", markerGroup, first),
				}
			}
			// Starts a new block; any previous block stays live only for
			// records already emitted.
			p.pending[0] = line
			p.state = ExpectDatatype
			return nil, nil
		}
		if p.live == nil {
			return nil, &StructuralError{
				Class: ClassBlockShape,
				Line:  p.line,
				Raw:   line,
				Msg:   "data line before any completed annotation block",
			}
		}
		return p.record(line)

	case ExpectDatatype:
		return nil, p.roleLine(line, isMarker, markerDatatype, ExpectDefault, 1)

	case ExpectDefault:
		return nil, p.roleLine(line, isMarker, markerDefault, ExpectColumns, 2)

	case ExpectColumns:
		if isMarker {
			// A marker here would make the block longer than 4 lines.
			return nil, &StructuralError{
				Class: ClassBlockShape,
				Line:  p.line,
				Raw:   line,
				Msg:   "annotation marker where columns line expected (unknown block shape)",
			}
		}
		return nil, p.completeBlock(line)
	}

	return nil, &StructuralError{
		Class: ClassBlockShape,
		Line:  p.line,
		Raw:   line,
		Msg:   "unreachable parser state",
	}
}

// roleLine handles annotation lines 2 and 3, which must carry an exact
// role marker in their first field.
func (p *Parser) roleLine(line string, isMarker bool, marker string, next State, idx int) error {
	if !isMarker {
		return &StructuralError{
			Class: ClassBlockShape,
			Line:  p.line,
			Raw:   line,
			Msg:   fmt.Sprintf("data line inside annotation block, expected %s marker", marker),
		}
	}
	if first := p.firstField(line); first != marker {
		return &StructuralError{
			Class: ClassUnknownHeader,
			Line:  p.line,
			Raw:   line,
			Msg:   fmt.Sprintf("expected %s marker, got %q", marker, first),
		}
	}
	p.pending[idx] = line
	p.state = next
	return nil
}

// completeBlock builds the column index from the 4th line and marks the
// block live.
func (p *Parser) completeBlock(line string) error {
	cols := make(ColumnIndex)
	for i, name := range p.scanner.Split(line) {
		if strings.TrimSpace(name) == "" {
			continue
		}
		cols[name] = i
	}
	if _, ok := cols[ColMeasurement]; !ok {
		return &StructuralError{
			Class: ClassMissingColumns,
			Line:  p.line,
			Raw:   line,
			Msg:   fmt.Sprintf("columns line missing %s", ColMeasurement),
		}
	}
	if _, ok := cols[ColTime]; !ok {
		return &StructuralError{
			Class: ClassMissingColumns,
			Line:  p.line,
			Raw:   line,
			Msg:   fmt.Sprintf("columns line missing %s", ColTime),
		}
	}

	p.pending[3] = line
	p.version++
	p.live = &Block{
		Lines:   p.pending,
		Columns: cols,
		Version: p.version,
	}
	p.state = Data
	return nil
}

// record interprets a data line through the live column index.
func (p *Parser) record(line string) (*Record, error) {
	fields := p.scanner.Split(line)

	measurement := p.field(fields, p.live.Columns[ColMeasurement])
	if strings.TrimSpace(measurement) == "" {
		return nil, &StructuralError{
			Class: ClassBlankMeasurement,
			Line:  p.line,
			Raw:   line,
			Msg:   "blank " + ColMeasurement,
		}
	}

	ts := p.field(fields, p.live.Columns[ColTime])
	if strings.TrimSpace(ts) == "" {
		return nil, &StructuralError{
			Class: ClassBlankTime,
			Line:  p.line,
			Raw:   line,
			Msg:   "blank " + ColTime,
		}
	}

	return &Record{
		Raw:          line,
		Measurement:  measurement,
		Time:         ts,
		BlockVersion: p.live.Version,
		Line:         p.line,
	}, nil
}

func (p *Parser) field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func (p *Parser) firstField(line string) string {
	fields := p.scanner.Split(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
