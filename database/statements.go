package database

import (
	"sort"
	"sync"
)

// StatementCatalog maps a name to a parameterized SQL template. It is a pure
// in-memory registry: no execution logic lives here, and parameter counts are
// not checked against placeholders; a mismatch surfaces as a query execution
// error when the statement actually runs.
type StatementCatalog struct {
	mu         sync.RWMutex
	statements map[string]string
}

// NewStatementCatalog returns a catalog seeded with the application's common
// queries. Callers may register additional templates at runtime.
func NewStatementCatalog() *StatementCatalog {
	c := &StatementCatalog{statements: make(map[string]string)}
	c.seedCommonQueries()
	return c
}

func (c *StatementCatalog) seedCommonQueries() {
	// Trip queries
	c.statements["get_trip_by_id"] = "SELECT * FROM trips WHERE id = ?"
	c.statements["get_trips_paginated"] = "SELECT * FROM trips ORDER BY created_at DESC LIMIT ? OFFSET ?"
	c.statements["search_trips_by_customer"] = "SELECT * FROM trips WHERE khach_hang LIKE ? ORDER BY created_at DESC"
	c.statements["search_trips_by_route"] = "SELECT * FROM trips WHERE diem_di LIKE ? AND diem_den LIKE ? ORDER BY created_at DESC"
	c.statements["get_next_trip_code"] = "SELECT ma_chuyen FROM trips ORDER BY id DESC LIMIT 1"

	// Company price queries
	c.statements["get_company_prices"] = "SELECT * FROM company_prices WHERE company_name = ? ORDER BY created_at DESC"
	c.statements["search_company_prices"] = `
		SELECT * FROM company_prices
		WHERE company_name = ? AND khach_hang LIKE ? AND diem_di LIKE ? AND diem_den LIKE ?
		ORDER BY created_at DESC`

	// Department and employee queries
	c.statements["get_all_departments"] = "SELECT * FROM departments WHERE is_active = 1 ORDER BY name"
	c.statements["get_department_by_id"] = "SELECT * FROM departments WHERE id = ?"
	c.statements["get_employees_by_dept"] = "SELECT * FROM employees WHERE department_id = ? AND is_active = 1"

	// Field configuration queries
	c.statements["get_field_configs"] = `
		SELECT * FROM field_configurations
		WHERE department_id = ? AND is_active = 1
		ORDER BY display_order, field_name`

	// Formula queries
	c.statements["get_formulas"] = "SELECT * FROM formulas WHERE department_id = ? AND is_active = 1"

	// Push condition queries
	c.statements["get_push_conditions"] = `
		SELECT * FROM push_conditions
		WHERE source_department_id = ? AND target_department_id = ? AND is_active = 1
		ORDER BY condition_order`

	// Workflow history queries
	c.statements["get_workflow_history"] = `
		SELECT * FROM workflow_history
		WHERE record_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	// Workspace queries
	c.statements["get_workspaces"] = "SELECT * FROM employee_workspaces WHERE employee_id = ? ORDER BY workspace_name"

	// Autocomplete queries
	c.statements["autocomplete_customers"] = "SELECT DISTINCT khach_hang FROM trips WHERE khach_hang LIKE ? LIMIT 20"
	c.statements["autocomplete_diem_di"] = "SELECT DISTINCT diem_di FROM trips WHERE diem_di LIKE ? LIMIT 20"
	c.statements["autocomplete_diem_den"] = "SELECT DISTINCT diem_den FROM trips WHERE diem_den LIKE ? LIMIT 20"
}

// Get returns the SQL template registered under name.
func (c *StatementCatalog) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	query, ok := c.statements[name]
	return query, ok
}

// Add registers a template, overwriting any existing entry with the same name.
func (c *StatementCatalog) Add(name, query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements[name] = query
}

// Names returns all registered statement names, sorted.
func (c *StatementCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.statements))
	for name := range c.statements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered statements.
func (c *StatementCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statements)
}
