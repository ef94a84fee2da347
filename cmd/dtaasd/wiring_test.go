package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dtaas-io/engine/pkg/model"
)

func TestSplitTableWithSchema(t *testing.T) {
	schema, table := splitTable("dbo.orders")
	assert.Equal(t, "dbo", schema)
	assert.Equal(t, "orders", table)
}

func TestSplitTableWithoutSchema(t *testing.T) {
	schema, table := splitTable("orders")
	assert.Equal(t, "", schema)
	assert.Equal(t, "orders", table)
}

func TestCfgHelpersReadMixedTypes(t *testing.T) {
	cfg := map[string]any{
		"host":           "db.internal",
		"port":           float64(3306), // JSON-decoded numbers land as float64
		"use_path_style": true,
	}
	assert.Equal(t, "db.internal", cfgString(cfg, "host"))
	assert.Equal(t, 3306, cfgInt(cfg, "port"))
	assert.True(t, cfgBool(cfg, "use_path_style"))
	assert.Equal(t, "", cfgString(cfg, "missing"))
}

func TestBuildSourceRejectsUnsupportedVariant(t *testing.T) {
	conn := model.Connector{Name: "weird", Variant: model.VariantSnowflake}
	_, err := buildSource(conn, nil)
	assert.Error(t, err)
}

func TestBuildDestinationRejectsUnsupportedVariant(t *testing.T) {
	conn := model.Connector{Name: "weird", Variant: model.VariantMySQL}
	_, err := buildDestination(conn, "mysql")
	assert.Error(t, err)
}

func TestDriverNameForKnownVariants(t *testing.T) {
	assert.Equal(t, "mysql", driverNameFor(model.VariantMySQL))
	assert.Equal(t, "postgres", driverNameFor(model.VariantPostgreSQL))
	assert.Equal(t, "", driverNameFor(model.VariantS3))
}

func TestQuoteIdentForDialects(t *testing.T) {
	assert.Equal(t, "`orders`", quoteIdentFor(model.VariantMySQL)("orders"))
	assert.Equal(t, "[orders]", quoteIdentFor(model.VariantSQLServer)("orders"))
	assert.Equal(t, `"orders"`, quoteIdentFor(model.VariantPostgreSQL)("orders"))
}
