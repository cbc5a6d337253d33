package catalog

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// idTimestampFormat keeps ids sortable by creation time within one
// (type, database) prefix.
const idTimestampFormat = "20060102T150405"

// GenerateID produces a collision-resistant backup id of the form
// <type>_<database>_<UTC timestamp>_<random4>, e.g.
// full_mydb_20250101T000000_ab12.
func GenerateID(t BackupType, database string, now time.Time) string {
	u := uuid.New()
	suffix := hex.EncodeToString(u[:2])
	return fmt.Sprintf("%s_%s_%s_%s", t, database, now.UTC().Format(idTimestampFormat), suffix)
}
