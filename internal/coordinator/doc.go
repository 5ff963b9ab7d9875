// Package coordinator drives benchmark executions end to end: it turns a
// test procedure into per-client allocation plans, spreads the clients
// across registered workers, enforces cluster preconditions, steps the
// workers through join points and aggregates the collected samples into
// the final report.
package coordinator
