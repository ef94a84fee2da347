package s3dst

import "strings"

// parquetTypeFor maps a source logical type name to the parquet-go node
// kind used when building the file's schema. Unmapped types fall back to
// a plain UTF-8 string column, matching the "widest string type" fallback
// rule of spec §4.2.
func parquetTypeFor(sourceType string) string {
	switch strings.ToLower(sourceType) {
	case "int", "int32", "smallint", "tinyint", "integer":
		return "int32"
	case "bigint", "int64":
		return "int64"
	case "float", "float32", "real":
		return "float"
	case "double", "float64", "double precision":
		return "double"
	case "bit", "boolean", "bool":
		return "boolean"
	case "date", "datetime", "datetime2", "timestamp", "timestamp without time zone", "timestamp with time zone":
		return "timestamp"
	default:
		return "string"
	}
}
