package mssql

import (
	"regexp"
	"strings"

	sqlutil "github.com/ekaya-inc/ekaya-agent/pkg/sql"
)

var outputClause = regexp.MustCompile(`(?i)\bOUTPUT\s+(INSERTED|DELETED)\b`)

// returnsRows reports whether a statement produces a result set: queries, and
// DML carrying an OUTPUT clause.
func returnsRows(statement string) bool {
	switch sqlutil.FirstKeyword(statement) {
	case "SELECT", "WITH":
		return true
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		return outputClause.MatchString(statement)
	default:
		return false
	}
}

// mapSQLServerType maps SQL Server type names to the names other dialects report.
func mapSQLServerType(sqlServerType string) string {
	sqlServerType = strings.ToUpper(sqlServerType)

	switch sqlServerType {
	case "INT":
		return "INTEGER"
	case "DECIMAL", "NUMERIC":
		return "NUMERIC"
	case "MONEY", "SMALLMONEY":
		return "MONEY"
	case "FLOAT":
		return "DOUBLE PRECISION"
	case "CHAR", "NCHAR":
		return "CHAR"
	case "VARCHAR", "NVARCHAR":
		return "VARCHAR"
	case "TEXT", "NTEXT":
		return "TEXT"
	case "BINARY", "VARBINARY":
		return "BYTEA"
	case "IMAGE":
		return "BLOB"
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "TIMESTAMP"
	case "DATETIMEOFFSET":
		return "TIMESTAMP WITH TIME ZONE"
	case "BIT":
		return "BOOLEAN"
	case "UNIQUEIDENTIFIER":
		return "UUID"
	default:
		return sqlServerType
	}
}

// isStringType returns true if the type is a string type in SQL Server.
func isStringType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT":
		return true
	}
	return false
}
