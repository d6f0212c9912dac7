package sqlinline

import (
	"strings"
	"testing"

	"coursepipe/internal/infra"
)

var allQueries = map[string]string{
	"QInsertJob":             QInsertJob,
	"QSelectJob":             QSelectJob,
	"QSelectJobVersion":      QSelectJobVersion,
	"QUpdateJobStatus":       QUpdateJobStatus,
	"QSelectStuckJobs":       QSelectStuckJobs,
	"QSelectActiveJobs":      QSelectActiveJobs,
	"QInsertSubmission":      QInsertSubmission,
	"QSelectSubmissionJobs":  QSelectSubmissionJobs,
	"QInsertAutoFix":         QInsertAutoFix,
	"QSelectRecentAutoFixes": QSelectRecentAutoFixes,
	"QUpsertPattern":         QUpsertPattern,
	"QSelectPattern":         QSelectPattern,
	"QSelectPatterns":        QSelectPatterns,
	"QPromotePattern":        QPromotePattern,
	"QInsertUploadSession":   QInsertUploadSession,
	"QInsertUploadFile":      QInsertUploadFile,
	"QSelectUploadFile":      QSelectUploadFile,
	"QAdvanceUploadFile":     QAdvanceUploadFile,
	"QCompleteUploadFile":    QCompleteUploadFile,
	"QSelectUploadFiles":     QSelectUploadFiles,
	"QEnqueueProcessing":     QEnqueueProcessing,
}

func TestQueriesCarryUniqueMarkers(t *testing.T) {
	seen := make(map[string]string, len(allQueries))
	for name, q := range allQueries {
		marker, body, err := infra.ExtractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if strings.TrimSpace(body) == "" {
			t.Fatalf("%s: empty statement after marker", name)
		}
		if other, ok := seen[marker]; ok {
			t.Fatalf("%s reuses marker %s from %s", name, marker, other)
		}
		seen[marker] = name
	}
}

func TestJobQueriesSelectSameColumns(t *testing.T) {
	for _, name := range []string{"QInsertJob", "QSelectJob", "QUpdateJobStatus", "QSelectStuckJobs", "QSelectActiveJobs", "QSelectSubmissionJobs"} {
		if !strings.Contains(allQueries[name], jobColumns) {
			t.Fatalf("%s does not use jobColumns", name)
		}
	}
}
