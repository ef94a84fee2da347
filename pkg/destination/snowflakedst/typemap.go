package snowflakedst

import "strings"

// sqlServerToSnowflake and the other per-source tables below are the
// "explicit table per variant" required by spec §4.2. Unknown/unmapped
// source types fall back to the widest string type, VARCHAR(16777216).
var sqlServerToSnowflake = map[string]string{
	"nvarchar": "VARCHAR(16777216)",
	"varchar":  "VARCHAR(16777216)",
	"nchar":    "VARCHAR",
	"char":     "VARCHAR",
	"text":     "VARCHAR(16777216)",
	"datetime2": "TIMESTAMP",
	"datetime":  "TIMESTAMP",
	"date":      "DATE",
	"bit":       "BOOLEAN",
	"int":       "NUMBER(10,0)",
	"bigint":    "NUMBER(19,0)",
	"smallint":  "NUMBER(5,0)",
	"tinyint":   "NUMBER(3,0)",
	"decimal":   "NUMBER(38,10)",
	"numeric":   "NUMBER(38,10)",
	"float":     "FLOAT",
	"real":      "FLOAT",
	"uniqueidentifier": "VARCHAR(36)",
	"varbinary": "BINARY",
}

var mysqlToSnowflake = map[string]string{
	"varchar":    "VARCHAR(16777216)",
	"char":       "VARCHAR",
	"text":       "VARCHAR(16777216)",
	"longtext":   "VARCHAR(16777216)",
	"datetime":   "TIMESTAMP",
	"timestamp":  "TIMESTAMP",
	"date":       "DATE",
	"tinyint":    "BOOLEAN",
	"smallint":   "NUMBER(5,0)",
	"int":        "NUMBER(10,0)",
	"bigint":     "NUMBER(19,0)",
	"decimal":    "NUMBER(38,10)",
	"float":      "FLOAT",
	"double":     "FLOAT",
	"json":       "VARIANT",
}

var postgresToSnowflake = map[string]string{
	"character varying":  "VARCHAR(16777216)",
	"text":               "VARCHAR(16777216)",
	"character":          "VARCHAR",
	"timestamp without time zone": "TIMESTAMP_NTZ",
	"timestamp with time zone":    "TIMESTAMP_TZ",
	"date":               "DATE",
	"boolean":            "BOOLEAN",
	"smallint":           "NUMBER(5,0)",
	"integer":            "NUMBER(10,0)",
	"bigint":             "NUMBER(19,0)",
	"numeric":            "NUMBER(38,10)",
	"real":               "FLOAT",
	"double precision":   "FLOAT",
	"jsonb":              "VARIANT",
	"json":               "VARIANT",
	"uuid":               "VARCHAR(36)",
}

var oracleToSnowflake = map[string]string{
	"varchar2":  "VARCHAR(16777216)",
	"nvarchar2": "VARCHAR(16777216)",
	"char":      "VARCHAR",
	"clob":      "VARCHAR(16777216)",
	"number":    "NUMBER(38,10)",
	"float":     "FLOAT",
	"date":      "TIMESTAMP",
	"timestamp": "TIMESTAMP",
	"raw":       "BINARY",
	"blob":      "BINARY",
}

const fallbackType = "VARCHAR(16777216)"

// MapType resolves sourceType (as reported by a Source Adapter's Columns
// call) to its Snowflake column type. sourceVariant matches
// model.ConnectorVariant's lowercase form.
func MapType(sourceVariant, sourceType string) string {
	table := tableFor(sourceVariant)
	if t, ok := table[strings.ToLower(sourceType)]; ok {
		return t
	}
	return fallbackType
}

func tableFor(sourceVariant string) map[string]string {
	switch strings.ToLower(sourceVariant) {
	case "sqlserver", "sql_server":
		return sqlServerToSnowflake
	case "mysql":
		return mysqlToSnowflake
	case "postgresql", "postgres":
		return postgresToSnowflake
	case "oracle":
		return oracleToSnowflake
	default:
		return map[string]string{}
	}
}
