// Package round decides which data-entry workflow a jurisdiction sees for
// its current round. Select is a pure function over the round, the audit
// settings, the audit boards and the sample count; it never fails and
// reports ViewLoading until every input has arrived.
package round
