package submit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunIDLayout is the timestamp part of a run id.
const RunIDLayout = "20060102150405"

// RunID returns {pipeline}-{YYYYMMDDHHMMSS} for at in UTC. Two calls within the same
// second return the same id.
func RunID(pipeline string, at time.Time) string {
	return pipeline + "-" + at.UTC().Format(RunIDLayout)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
