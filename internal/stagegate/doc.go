// Package stagegate enforces the ordering of the audit setup wizard. Each
// stage is locked, live or completed; the state vector is derived from the
// highest completed stage and the active stage rather than stored per stage.
package stagegate
