// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

const timestampLayout = "2006-01-02 15:04:05"

// formatValue renders an attribute value for text-based outputs.
func formatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.Format(timestampLayout)
	default:
		return ""
	}
}
