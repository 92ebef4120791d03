// Copyright 2026 The ufork Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PrometheusName returns the Prometheus name of a metric: the prefix
// followed by the metric name with slashes turned into underscores and a
// "_total" suffix, as befits a counter.
func PrometheusName(prefix, name string) string {
	return prefix + strings.ReplaceAll(name, "/", "_") + "_total"
}

// WritePrometheus writes all metrics to w in the Prometheus text exposition
// format.
func WritePrometheus(w io.Writer, prefix string) error {
	bw := bufio.NewWriter(w)
	for _, m := range sortedMetrics() {
		name := PrometheusName(prefix, m.name)
		fmt.Fprintf(bw, "# HELP %s %s\n", name, escapeHelp(m.description))
		fmt.Fprintf(bw, "# TYPE %s counter\n", name)
		fmt.Fprintf(bw, "%s %d\n", name, m.Value())
	}
	return bw.Flush()
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
