package job

import (
	"net/http"
	"strings"
	"time"

	"tapkit/internal/conn"
	"tapkit/internal/table"
)

// DefaultCompressedFormats are the result formats services send compressed.
var DefaultCompressedFormats = []string{table.FormatVOTable, table.FormatFITS, table.FormatECSV}

var extensions = map[string]string{
	table.FormatVOTable:      ".vot",
	table.FormatVOTablePlain: ".vot",
	table.FormatFITS:         ".fits",
	table.FormatCSV:          ".csv",
	table.FormatECSV:         ".ecsv",
	table.FormatJSON:         ".json",
}

// Extension returns the file extension of a result format.
func Extension(format string) string {
	return extensions[table.NormalizeFormat(format)]
}

func isCompressed(format string, compressed []string) bool {
	f := table.NormalizeFormat(format)
	for _, c := range compressed {
		if table.NormalizeFormat(c) == f {
			return true
		}
	}
	return false
}

// UserOutputFile adjusts an explicit output file for a compressed format by
// appending ".gz" unless it already names a gzip or zip file.
func UserOutputFile(outputFile, format string, compressed []string) string {
	if outputFile == "" || !isCompressed(format, compressed) {
		return outputFile
	}
	lower := strings.ToLower(outputFile)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".zip") {
		return outputFile
	}
	return outputFile + ".gz"
}

// CompressionSuffix returns ".zip" when the response declares a zip payload
// and ".gz" otherwise.
func CompressionSuffix(header http.Header) string {
	for _, name := range []string{"Content-Type", "Content-Encoding", "Content-Disposition"} {
		v, ok := conn.FindHeader(header, name)
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		if strings.Contains(v, "zip") && !strings.Contains(v, "gzip") {
			return ".zip"
		}
	}
	return ".gz"
}

// NameRequest holds what OutputFileName needs to pick a result file name.
type NameRequest struct {
	Async      bool
	JobID      string
	UserFile   string
	Header     http.Header
	IsError    bool
	Format     string
	Compressed []string
	Now        time.Time
}

// OutputFileName returns the user's file when given. Otherwise it builds
// async_<jobid> or sync_<timestamp>, plus the format extension and the
// compression suffix for successful responses.
func OutputFileName(req NameRequest) string {
	if req.UserFile != "" {
		return req.UserFile
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	var name string
	switch {
	case req.Async && req.JobID != "":
		name = "async_" + req.JobID
	case req.Async:
		name = "async_" + now.Format("20060102150405")
	default:
		name = "sync_" + now.Format("20060102150405")
	}
	if req.IsError {
		return name
	}
	name += Extension(req.Format)
	if isCompressed(req.Format, req.Compressed) {
		name += CompressionSuffix(req.Header)
	}
	return name
}
