// Package report publishes finished benchmark reports. Publishers are
// registered by name in a Registry and driven by a Manager that fans one
// final TestReport out to every configured destination: the console table,
// a JSON document, a CSV rendering of the metrics table, and a results
// store that indexes the report into the benchmarked cluster itself.
package report
