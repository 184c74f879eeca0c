// Package ballot implements the per-ballot interpretation workflow an audit
// board steps through: record choices, review, confirm. Machine owns the
// draft and its state; Guard turns duplicate "submit and next" triggers into
// a single persistence call followed by a single advance.
package ballot
