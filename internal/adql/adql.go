// Package adql holds the string rules the TAP client applies to queries,
// locations and error documents.
package adql

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSyncTop is the row cap injected into synchronous queries.
const DefaultSyncTop = 2000

var (
	selectPattern = regexp.MustCompile(`(?i)\bSELECT\b\s*(?:(?:DISTINCT|ALL)\b\s*)?`)
	topPattern    = regexp.MustCompile(`(?i)^TOP\s+\d+`)
)

// HasTop reports whether the outer SELECT already limits its rows with TOP.
// TOP in subqueries, string literals and comments does not count.
func HasTop(query string) bool {
	code := maskLiterals(query)
	loc := selectPattern.FindStringIndex(code)
	return loc != nil && topPattern.MatchString(code[loc[1]:])
}

// SetTop injects "TOP n" after the first SELECT (and any DISTINCT/ALL
// quantifier) unless that SELECT already has a TOP clause. Queries without a
// SELECT are returned unchanged.
func SetTop(query string, top int) string {
	if top <= 0 || strings.TrimSpace(query) == "" {
		return query
	}
	code := maskLiterals(query)
	loc := selectPattern.FindStringIndex(code)
	if loc == nil || topPattern.MatchString(code[loc[1]:]) {
		return query
	}
	head := query[:loc[1]]
	if !strings.HasSuffix(head, " ") && !strings.HasSuffix(head, "\t") && !strings.HasSuffix(head, "\n") {
		head += " "
	}
	return head + "TOP " + strconv.Itoa(top) + " " + query[loc[1]:]
}

// maskLiterals blanks string literals, quoted identifiers and comments while
// keeping byte offsets, so keyword matches only see query text.
func maskLiterals(query string) string {
	b := []byte(query)
	for i := 0; i < len(b); {
		switch {
		case b[i] == '\'' || b[i] == '"':
			quote := b[i]
			j := i + 1
			for j < len(b) {
				if b[j] == quote {
					if j+1 < len(b) && b[j+1] == quote {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			blank(b, i, j)
			i = j
		case b[i] == '-' && i+1 < len(b) && b[i+1] == '-':
			j := i
			for j < len(b) && b[j] != '\n' {
				j++
			}
			blank(b, i, j)
			i = j
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			j := strings.Index(query[i+2:], "*/")
			if j < 0 {
				j = len(b)
			} else {
				j += i + 4
			}
			blank(b, i, j)
			i = j
		default:
			i++
		}
	}
	return string(b)
}

func blank(b []byte, from, to int) {
	for k := from; k < to && k < len(b); k++ {
		if b[k] != '\n' {
			b[k] = ' '
		}
	}
}

// SchemaName returns the schema part of a qualified table name.
func SchemaName(qualified string) (string, bool) {
	pos := strings.LastIndex(qualified, ".")
	if pos <= 0 {
		return "", false
	}
	return qualified[:pos], true
}

// TableName returns the unqualified part of a table name.
func TableName(qualified string) string {
	pos := strings.LastIndex(qualified, ".")
	if pos < 0 {
		return qualified
	}
	return qualified[pos+1:]
}

// JobIDFromLocation returns the path segment after the last '/'.
func JobIDFromLocation(location string) string {
	location = strings.TrimRight(location, "/")
	return location[strings.LastIndex(location, "/")+1:]
}

// SyncSubcontext returns the part of a redirect location starting at its
// last "sync" path segment, or the location itself when it has none.
func SyncSubcontext(location string) string {
	path := location
	if end := strings.IndexAny(path, "?#"); end >= 0 {
		path = path[:end]
	}
	for pos := len(path); pos > 0; {
		pos = strings.LastIndex(path[:pos], "/sync")
		if pos < 0 {
			break
		}
		next := pos + len("/sync")
		if next == len(path) || path[next] == '/' {
			return location[pos+1:]
		}
	}
	return location
}

const htmlMessageStart = "<li><b>Message: </b>"

// ErrorMessage extracts a human-readable message from an error body. It
// understands the VOTable QUERY_STATUS=ERROR convention and the HTML error
// page some TAP+ services return; otherwise the trimmed body is returned.
func ErrorMessage(body string) string {
	if pos := strings.Index(body, htmlMessageStart); pos >= 0 {
		rest := body[pos+len(htmlMessageStart):]
		if end := strings.Index(rest, "</li>"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if msg, ok := votableErrorMessage(body); ok {
		return msg
	}
	return strings.TrimSpace(body)
}

func votableErrorMessage(body string) (string, bool) {
	if !strings.Contains(body, "QUERY_STATUS") {
		return "", false
	}
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "INFO") {
			continue
		}
		if !isQueryStatusError(start.Attr) {
			continue
		}
		var info struct {
			Text string `xml:",chardata"`
		}
		if err := dec.DecodeElement(&info, &start); err != nil {
			return "", false
		}
		return strings.TrimSpace(info.Text), true
	}
}

func isQueryStatusError(attrs []xml.Attr) bool {
	var name, value string
	for _, a := range attrs {
		switch a.Name.Local {
		case "name":
			name = a.Value
		case "value":
			value = a.Value
		}
	}
	return name == "QUERY_STATUS" && strings.EqualFold(value, "ERROR")
}
