package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?is)```[ \\t]*(?:json)?[ \\t]*\\r?\\n?(.*?)```")
	fenceMarkerRe = regexp.MustCompile("(?i)```(?:json)?")
)

// ExtractJSONText pulls the most likely JSON payload out of a model response.
// It prefers a fenced block, then the widest {...} span, and finally falls back
// to the response with any stray fence markers removed. The result is not
// guaranteed to be valid JSON.
func ExtractJSONText(raw string) string {
	if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		return raw[start : end+1]
	}

	return strings.TrimSpace(fenceMarkerRe.ReplaceAllString(raw, ""))
}

// RepairJSON fixes formatting mistakes models commonly make: trailing commas,
// raw control characters inside strings and typographic double quotes.
func RepairJSON(text string) string {
	text = strings.NewReplacer("“", `"`, "”", `"`).Replace(text)

	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
				fmt.Fprintf(&b, `\u%04x`, c)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			// drop commas directly followed by a closing bracket
			j := i + 1
			for j < len(text) && strings.IndexByte(" \t\r\n", text[j]) != -1 {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Payload is JSON recovered from a model response
type Payload struct {
	Value    Value
	Text     string
	Strategy string
}

type outputStrategy struct {
	name string
	text func(raw string) string
}

var outputStrategies = []outputStrategy{
	{name: "direct", text: strings.TrimSpace},
	{name: "extracted", text: ExtractJSONText},
	{name: "repaired", text: func(raw string) string { return RepairJSON(ExtractJSONText(raw)) }},
	{name: "first_value", text: firstJSONValue},
}

// firstJSONValue returns the first complete JSON value starting at the first
// "{", ignoring whatever follows it. It returns "" when there is none.
func firstJSONValue(raw string) string {
	start := strings.Index(raw, "{")
	if start == -1 {
		return ""
	}
	var msg json.RawMessage
	if err := json.NewDecoder(strings.NewReader(raw[start:])).Decode(&msg); err != nil {
		return ""
	}
	return string(msg)
}

// ParseOutput tries each recovery strategy in order and returns the first one
// that yields a JSON object or array. It fails with *OutputParseError.
func ParseOutput(raw string) (Payload, error) {
	var errs []error
	tried := make(map[string]bool, len(outputStrategies))

	for _, s := range outputStrategies {
		text := s.text(raw)
		if text == "" {
			errs = append(errs, fmt.Errorf("%s: empty", s.name))
			continue
		}
		if tried[text] {
			continue
		}
		tried[text] = true

		v, err := ParseValue([]byte(text))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if k := v.Kind(); k != KindObject && k != KindArray {
			errs = append(errs, fmt.Errorf("%s: payload is a JSON %s", s.name, k))
			continue
		}
		return Payload{Value: v, Text: text, Strategy: s.name}, nil
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("empty response"))
	}
	return Payload{}, &OutputParseError{Raw: raw, Err: errors.Join(errs...)}
}
