// Package all registers every built-in output plugin. Import it for side
// effects from main packages that need the full set.
package all

import (
	_ "seabench/benchmark-engine/pkg/output/console"
	_ "seabench/benchmark-engine/pkg/output/influxdb"
	_ "seabench/benchmark-engine/pkg/output/json"
)
