package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ===== PARTIAL JSON PARSER =====

// PartialParser accumulates streamed model output and extracts fields
// from a JSON object before it is complete. Its main use is pulling a
// leading "thinking" field out of a token stream for progressive
// display while the rest of the object is still arriving.
type PartialParser struct {
	buf strings.Builder
}

// Feed appends a chunk of streamed output.
func (p *PartialParser) Feed(chunk string) {
	p.buf.WriteString(chunk)
}

// Thinking returns the value of the top-level "thinking" string field
// seen so far, decoded, even if the field or the object is still
// unterminated. Returns "" when the field has not started.
func (p *PartialParser) Thinking() string {
	return p.StringField("thinking")
}

// StringField extracts a top-level string field by name from the
// accumulated buffer, tolerating truncation mid-value.
func (p *PartialParser) StringField(name string) string {
	s := p.buf.String()
	key := `"` + name + `"`
	idx := strings.Index(s, key)
	if idx == -1 {
		return ""
	}
	rest := s[idx+len(key):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return ""
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return ""
	}
	rest = rest[1:]

	var out strings.Builder
	escaped := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		if escaped {
			switch ch {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case '"', '\\', '/':
				out.WriteByte(ch)
			case 'u':
				// Decode only when all four hex digits have arrived.
				if i+4 < len(rest) {
					if v, err := strconv.ParseUint(rest[i+1:i+5], 16, 32); err == nil {
						out.WriteRune(rune(v))
					}
					i += 4
				}
			default:
				out.WriteByte(ch)
			}
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '"':
			return out.String()
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

// Complete reports whether the buffer now holds a balanced JSON object.
func (p *PartialParser) Complete() bool {
	return ExtractJSON(CleanJSON(p.buf.String())) != ""
}

// Object unmarshals the buffered object once it is complete.
func (p *PartialParser) Object(v interface{}) bool {
	jsonStr := ExtractJSON(CleanJSON(p.buf.String()))
	if jsonStr == "" {
		return false
	}
	return json.Unmarshal([]byte(jsonStr), v) == nil
}

// Reset clears the buffer for reuse.
func (p *PartialParser) Reset() {
	p.buf.Reset()
}
