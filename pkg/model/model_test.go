package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveTablesSkipsDisabledOverrides(t *testing.T) {
	task := &Task{
		SourceTables: []string{"dbo.Orders", "dbo.Customers"},
		TableOverrides: map[string]TableOverride{
			"dbo.Customers": {Enabled: false},
		},
	}
	assert.Equal(t, []string{"dbo.Orders"}, task.EffectiveTables())
}

func TestNeedsFullLoad(t *testing.T) {
	task := &Task{
		SourceTables: []string{"dbo.A", "dbo.B"},
		FullLoadCompletedTables: map[string]time.Time{
			"dbo.A": time.Now(),
		},
	}
	assert.Equal(t, []string{"dbo.B"}, task.NeedsFullLoad())
}

func TestRemoveTablePrunesDerivedState(t *testing.T) {
	task := &Task{
		SourceTables: []string{"dbo.A", "dbo.B"},
		CDCState: map[string]CDCTableState{
			"dbo.A": {LastCursor: "0x1"},
		},
		FullLoadCompletedTables: map[string]time.Time{
			"dbo.A": time.Now(),
		},
	}
	task.RemoveTable("dbo.A")
	assert.Equal(t, []string{"dbo.B"}, task.SourceTables)
	assert.NotContains(t, task.CDCState, "dbo.A")
	assert.NotContains(t, task.FullLoadCompletedTables, "dbo.A")
}

func TestRedefineClearsOnlyRemovedTables(t *testing.T) {
	task := &Task{
		SourceTables: []string{"dbo.A", "dbo.B"},
		FullLoadCompletedTables: map[string]time.Time{
			"dbo.A": time.Now(),
			"dbo.B": time.Now(),
		},
	}
	task.Redefine([]string{"dbo.A"})
	assert.Contains(t, task.FullLoadCompletedTables, "dbo.A")
	assert.NotContains(t, task.FullLoadCompletedTables, "dbo.B")
}

func TestTransformsForPrefersPerTableOverride(t *testing.T) {
	task := &Task{
		TableOverrides: map[string]TableOverride{
			"dbo.Orders": {Enabled: true, Transformations: []TransformSpec{{Kind: "drop_column"}}},
		},
	}
	taskLevel := []TransformSpec{{Kind: "add_column"}}
	assert.Equal(t, []TransformSpec{{Kind: "drop_column"}}, task.TransformsFor("dbo.Orders", taskLevel))
	assert.Equal(t, taskLevel, task.TransformsFor("dbo.Customers", taskLevel))
}

func TestTableExecutionProgressPercent(t *testing.T) {
	te := &TableExecution{TotalRows: 0}
	assert.Equal(t, float64(0), te.ProgressPercent())
	te = &TableExecution{TotalRows: 200, ProcessedRows: 50}
	assert.Equal(t, float64(25), te.ProgressPercent())
}
