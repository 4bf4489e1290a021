package tapxml

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapkit/internal/domain"
)

const tablesDoc = `<?xml version="1.0" encoding="UTF-8"?>
<vosi:tableset xmlns:vosi="http://www.ivoa.net/xml/VOSITables/v1.0"
  xmlns:esatapplus="http://esa.int/xml/EsaTapPlus"
  xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <schema>
    <name>public</name>
    <description>Public schema</description>
    <table esatapplus:size_bytes="4096" type="table">
      <name>public.stars</name>
      <description>Stars table</description>
      <column esatapplus:flags="33">
        <name>ra</name>
        <description>Right ascension</description>
        <unit>deg</unit>
        <ucd>pos.eq.ra;meta.main</ucd>
        <utype>Char.SpatialAxis.Coverage.Location.Coord.Position2D.Value2.C1</utype>
        <dataType xsi:type="vs:VOTableType">DOUBLE</dataType>
        <flag>indexed</flag>
      </column>
      <column esatapplus:flags="2">
        <name>dec</name>
        <dataType xsi:type="vs:VOTableType">DOUBLE</dataType>
      </column>
      <column>
        <name>source_id</name>
        <dataType xsi:type="vs:VOTableType" arraysize="*">CHAR</dataType>
        <flag>primary</flag>
      </column>
    </table>
    <table>
      <name>public.empty</name>
    </table>
  </schema>
</vosi:tableset>`

func TestParseTables(t *testing.T) {
	tables, err := ParseTables(strings.NewReader(tablesDoc))
	require.NoError(t, err)
	require.Len(t, tables, 2)

	stars := tables[0]
	assert.Equal(t, "public", stars.Schema)
	assert.Equal(t, "public.stars", stars.QualifiedName())
	assert.Equal(t, "Stars table", stars.Description)
	assert.Equal(t, int64(4096), stars.SizeBytes)
	require.Len(t, stars.Columns, 3)

	ra := stars.Columns[0]
	assert.Equal(t, "ra", ra.Name)
	assert.Equal(t, "deg", ra.Unit)
	assert.Equal(t, "pos.eq.ra;meta.main", ra.UCD)
	assert.Equal(t, "DOUBLE", ra.DataType)
	assert.Equal(t, 33, ra.Flags)
	assert.Equal(t, domain.RoleRa, ra.Role)
	assert.True(t, ra.Indexed)

	dec := stars.Columns[1]
	assert.Equal(t, domain.RoleDec, dec.Role)
	assert.False(t, dec.Indexed)

	id := stars.Columns[2]
	assert.Equal(t, domain.RoleNone, id.Role)
	assert.True(t, id.Primary)
	assert.Equal(t, "*", id.ArraySize)

	assert.Empty(t, tables[1].Columns)
}

func TestParseTables_Malformed(t *testing.T) {
	_, err := ParseTables(strings.NewReader("<tableset><schema>"))
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
}

const jobDoc = `<?xml version="1.0" encoding="UTF-8"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0" xmlns:xlink="http://www.w3.org/1999/xlink">
  <uws:jobId>1623144593791O</uws:jobId>
  <uws:runId>my_query</uws:runId>
  <uws:ownerId>jdoe</uws:ownerId>
  <uws:phase>COMPLETED</uws:phase>
  <uws:quote>-1</uws:quote>
  <uws:startTime>2021-06-08T09:29:53.796Z</uws:startTime>
  <uws:endTime>2021-06-08T09:29:54.123Z</uws:endTime>
  <uws:executionDuration>30</uws:executionDuration>
  <uws:destruction></uws:destruction>
  <uws:creationTime>2021-06-08T09:29:53.791</uws:creationTime>
  <uws:parameters>
    <uws:parameter id="query">SELECT TOP 5 * FROM public.stars</uws:parameter>
    <uws:parameter id="format">votable</uws:parameter>
  </uws:parameters>
  <uws:results>
    <uws:result id="result" xlink:href="http://host/tap/async/1623144593791O/results/result"/>
  </uws:results>
</uws:job>`

func TestParseJob(t *testing.T) {
	d, err := ParseJob(strings.NewReader(jobDoc))
	require.NoError(t, err)

	assert.Equal(t, "1623144593791O", d.JobID)
	assert.Equal(t, "my_query", d.RunID)
	assert.Equal(t, "jdoe", d.OwnerID)
	assert.Equal(t, domain.PhaseCompleted, d.Phase)
	assert.Equal(t, int64(30), d.Duration)
	require.NotNil(t, d.StartTime)
	assert.Equal(t, 2021, d.StartTime.Year())
	require.NotNil(t, d.CreationTime)
	assert.Equal(t, time.June, d.CreationTime.Month())
	assert.Nil(t, d.Destruction)

	q, ok := d.Param("QUERY")
	require.True(t, ok)
	assert.Equal(t, "SELECT TOP 5 * FROM public.stars", q)
	require.Len(t, d.Results, 1)
	assert.Equal(t, "http://host/tap/async/1623144593791O/results/result", d.Results[0].Href)
}

func TestParseJob_ErrorSummary(t *testing.T) {
	doc := `<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobId>7</uws:jobId>
  <uws:phase>ERROR</uws:phase>
  <uws:errorSummary type="fatal" hasDetail="true">
    <uws:message>Table not found: foo</uws:message>
  </uws:errorSummary>
</uws:job>`
	d, err := ParseJob(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseError, d.Phase)
	assert.Equal(t, "Table not found: foo", d.ErrorMessage)
}

func TestParseJob_Invalid(t *testing.T) {
	var pe *domain.ProtocolError

	_, err := ParseJob(strings.NewReader("not xml at all"))
	require.ErrorAs(t, err, &pe)

	_, err = ParseJob(strings.NewReader("<uws:job xmlns:uws=\"u\"></uws:job>"))
	require.ErrorAs(t, err, &pe)
}

func TestParseJobList(t *testing.T) {
	doc := `<uws:jobs xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobref id="1" xlink:href="async/1" xmlns:xlink="http://www.w3.org/1999/xlink">
    <uws:phase>COMPLETED</uws:phase>
    <uws:runId>first</uws:runId>
  </uws:jobref>
  <uws:jobref id="2"><uws:phase>executing</uws:phase></uws:jobref>
  <uws:job><uws:jobId>3</uws:jobId><uws:phase>ERROR</uws:phase></uws:job>
</uws:jobs>`
	jobs, err := ParseJobList(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, "1", jobs[0].JobID)
	assert.Equal(t, "first", jobs[0].RunID)
	assert.Equal(t, domain.PhaseCompleted, jobs[0].Phase)
	assert.Equal(t, domain.PhaseExecuting, jobs[1].Phase)
	assert.Equal(t, "3", jobs[2].JobID)
	assert.Equal(t, domain.PhaseError, jobs[2].Phase)
}

func TestParseJobList_Empty(t *testing.T) {
	jobs, err := ParseJobList(strings.NewReader(`<uws:jobs xmlns:uws="u"/>`))
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestParseGroups(t *testing.T) {
	doc := `<groups>
  <group id="g1" title="team" description="Team group">
    <users>
      <user id="jdoe" name="John Doe"/>
      <user><id>asmith</id><name>Ann Smith</name></user>
    </users>
  </group>
  <group><id>g2</id><title>other</title></group>
</groups>`
	groups, err := ParseGroups(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "team", groups[0].Title)
	assert.Equal(t, "Team group", groups[0].Description)
	assert.Equal(t, []domain.User{{ID: "jdoe", Name: "John Doe"}, {ID: "asmith", Name: "Ann Smith"}}, groups[0].Users)
	assert.True(t, groups[0].HasUser("asmith"))

	assert.Equal(t, "g2", groups[1].ID)
	assert.Equal(t, "other", groups[1].Title)
	assert.Empty(t, groups[1].Users)
}

func TestParseSharedItems(t *testing.T) {
	doc := `<sharedItems>
  <sharedItem id="user_jdoe.t1" type="0" title="user_jdoe.t1" description="mine">
    <sharedToItems>
      <sharedToItem shareTo="g1" shareType="Group" shareMode="Read"/>
    </sharedToItems>
  </sharedItem>
  <sharedItem id="user_jdoe.t2" title="user_jdoe.t2">
    <sharedTo id="g2" type="Group" mode="Read"/>
  </sharedItem>
</sharedItems>`
	items, err := ParseSharedItems(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "user_jdoe.t1", items[0].ID)
	assert.Equal(t, "mine", items[0].Description)
	assert.Equal(t, []domain.SharedTarget{{ID: "g1", Type: "Group", Mode: "Read"}}, items[0].SharedTo)
	assert.True(t, items[0].SharedWith("g1"))
	assert.False(t, items[0].SharedWith("g2"))
	assert.True(t, items[1].SharedWith("g2"))
}
