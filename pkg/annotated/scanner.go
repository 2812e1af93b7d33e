package annotated

// scanState tracks position within a single CSV line.
type scanState uint8

const (
	stateFieldStart scanState = iota
	stateInField
	stateInQuotedField
	stateQuoteInQuotedField
)

// LineScanner splits one CSV line into fields using a byte-level state
// machine. It handles quoted fields, escaped quotes and either line-ending
// convention without allocating per field in the common case.
type LineScanner struct {
	delimiter byte
	state     scanState

	fieldStart int
	fieldEnd   int
}

// NewLineScanner creates a scanner for the given field delimiter.
func NewLineScanner(delimiter byte) *LineScanner {
	return &LineScanner{delimiter: delimiter, state: stateFieldStart}
}

func (s *LineScanner) reset() {
	s.state = stateFieldStart
	s.fieldStart = 0
	s.fieldEnd = 0
}

// Split parses a single line into its fields. Returned strings do not
// include surrounding quotes; escaped quotes ("") are unescaped.
func (s *LineScanner) Split(line string) []string {
	if len(line) == 0 {
		return nil
	}

	fields := make([]string, 0, 16)
	s.reset()

	needsUnescape := false

	for i := 0; i <= len(line); i++ {
		var c byte
		if i < len(line) {
			c = line[i]
		}

		switch s.state {
		case stateFieldStart:
			if i >= len(line) {
				// Empty final field.
				fields = append(fields, "")
				continue
			}
			switch {
			case c == '"':
				s.fieldStart = i + 1
				s.state = stateInQuotedField
			case c == s.delimiter:
				fields = append(fields, "")
			case c == '\r' || c == '\n':
				fields = append(fields, "")
			default:
				s.fieldStart = i
				s.state = stateInField
			}

		case stateInField:
			if i >= len(line) || c == s.delimiter || c == '\r' || c == '\n' {
				fields = append(fields, line[s.fieldStart:i])
				s.state = stateFieldStart
			}

		case stateInQuotedField:
			if i >= len(line) {
				// Unterminated quoted field, take what we have.
				fields = append(fields, line[s.fieldStart:i])
				continue
			}
			if c == '"' {
				s.fieldEnd = i
				s.state = stateQuoteInQuotedField
			}

		case stateQuoteInQuotedField:
			if i >= len(line) || c == s.delimiter || c == '\r' || c == '\n' {
				field := line[s.fieldStart:s.fieldEnd]
				if needsUnescape {
					field = unescapeQuotes(field)
					needsUnescape = false
				}
				fields = append(fields, field)
				s.state = stateFieldStart
			} else if c == '"' {
				// Escaped quote ("").
				needsUnescape = true
				s.state = stateInQuotedField
			} else {
				// Character after closing quote; be lenient.
				s.state = stateInQuotedField
			}
		}
	}

	return fields
}

// unescapeQuotes replaces "" with " inside a quoted field.
func unescapeQuotes(field string) string {
	buf := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		if field[i] == '"' && i+1 < len(field) && field[i+1] == '"' {
			buf = append(buf, '"')
			i++
			continue
		}
		buf = append(buf, field[i])
	}
	return string(buf)
}

// trimLineEnding removes trailing \n and \r characters.
func trimLineEnding(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
