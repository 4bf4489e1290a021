package taptest

import (
	"fmt"
	"strings"
)

// JobXML renders a UWS job description.
func JobXML(jobID, phase string, params map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
 <uws:jobId>%s</uws:jobId>
 <uws:runId></uws:runId>
 <uws:ownerId>anonymous</uws:ownerId>
 <uws:phase>%s</uws:phase>
 <uws:parameters>
`, jobID, phase)
	for k, v := range params {
		fmt.Fprintf(&b, "  <uws:parameter id=%q>%s</uws:parameter>\n", k, xmlEscape(v))
	}
	b.WriteString(" </uws:parameters>\n</uws:job>")
	return b.String()
}

// ErrorJobXML renders a UWS description of a failed job.
func ErrorJobXML(jobID, message string) string {
	return fmt.Sprintf(`<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
 <uws:jobId>%s</uws:jobId>
 <uws:phase>ERROR</uws:phase>
 <uws:errorSummary type="fatal"><uws:message>%s</uws:message></uws:errorSummary>
</uws:job>`, jobID, xmlEscape(message))
}

// VOTable renders a TABLEDATA VOTable with long columns.
func VOTable(columns []string, rows ...[]int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.3"><RESOURCE type="results"><INFO name="QUERY_STATUS" value="OK"/><TABLE>`)
	for _, c := range columns {
		fmt.Fprintf(&b, `<FIELD name=%q ID=%q datatype="long"/>`, c, c)
	}
	b.WriteString("<DATA><TABLEDATA>")
	for _, r := range rows {
		b.WriteString("<TR>")
		for _, v := range r {
			fmt.Fprintf(&b, "<TD>%d</TD>", v)
		}
		b.WriteString("</TR>")
	}
	b.WriteString("</TABLEDATA></DATA></TABLE></RESOURCE></VOTABLE>")
	return b.String()
}

// ErrorVOTable renders the VOTable error document TAP services return.
func ErrorVOTable(message string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.3"><RESOURCE type="results">
<INFO name="QUERY_STATUS" value="ERROR">%s</INFO>
</RESOURCE></VOTABLE>`, xmlEscape(message))
}

// Column describes a column for TablesXML.
type Column struct {
	Name  string
	Flags int
	UCD   string
	UType string
}

// TablesXML renders a VOSI tableset with one schema.
func TablesXML(schema string, tables map[string][]Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>
<vosi:tableset xmlns:vosi="http://www.ivoa.net/xml/VOSITables/v1.0" xmlns:esatapplus="http://esa.int/xml/EsaTapPlus">
<schema><name>%s</name>
`, schema)
	for name, cols := range tables {
		fmt.Fprintf(&b, "<table><name>%s</name>\n", name)
		for _, c := range cols {
			fmt.Fprintf(&b, `<column esatapplus:flags="%d"><name>%s</name><ucd>%s</ucd><utype>%s</utype><dataType>DOUBLE</dataType></column>`+"\n",
				c.Flags, c.Name, xmlEscape(c.UCD), xmlEscape(c.UType))
		}
		b.WriteString("</table>\n")
	}
	b.WriteString("</schema></vosi:tableset>")
	return b.String()
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
