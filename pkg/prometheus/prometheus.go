// Copyright 2025 The gVisor Authors.
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


// Package prometheus exports metrics in the Prometheus text exposition
// format, documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/protobuf/proto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"rvcore.dev/rvcore/pkg/metric"
)

// DefaultPrefix is prepended to every exported metric name.
const DefaultPrefix = "rvcore_"

// ExportOptions control how metrics are exported.
type ExportOptions struct {
	// Prefix is prepended to every metric name.
	Prefix string

	// Labels are added to every data point, such as the name of the init
	// program.
	Labels map[string]string
}

// MetricName returns the Prometheus name of the metric named name:
// "/kernel/syscalls" becomes prefix + "kernel_syscalls".
func MetricName(prefix, name string) string {
	return prefix + strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

// labelPairs returns the labels of one value, sorted by name.
func labelPairs(fields, values []string, extra map[string]string) []*dto.LabelPair {
	pairs := make([]*dto.LabelPair, 0, len(fields)+len(extra))
	for i, f := range fields {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(f), Value: proto.String(values[i])})
	}
	for k, v := range extra {
		pairs = append(pairs, &dto.LabelPair{Name: proto.String(k), Value: proto.String(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].GetName() < pairs[j].GetName()
	})
	return pairs
}

// Families converts metric snapshots into metric families.
func Families(snaps []metric.Snapshot, options ExportOptions) []*dto.MetricFamily {
	families := make([]*dto.MetricFamily, 0, len(snaps))
	for _, s := range snaps {
		typ := dto.MetricType_GAUGE
		if s.Metadata.Cumulative {
			typ = dto.MetricType_COUNTER
		}
		mf := &dto.MetricFamily{
			Name: proto.String(MetricName(options.Prefix, s.Metadata.Name)),
			Help: proto.String(s.Metadata.Description),
			Type: typ.Enum(),
		}
		for _, v := range s.Values {
			m := &dto.Metric{
				Label: labelPairs(s.Metadata.Fields, v.FieldValues, options.Labels),
			}
			if s.Metadata.Cumulative {
				m.Counter = &dto.Counter{Value: proto.Float64(float64(v.Value))}
			} else {
				m.Gauge = &dto.Gauge{Value: proto.Float64(float64(v.Value))}
			}
			mf.Metric = append(mf.Metric, m)
		}
		families = append(families, mf)
	}
	return families
}

// Write writes every metric in r to w in text format. It returns the number
// of bytes written.
func Write(w io.Writer, r *metric.Registry, options ExportOptions) (int, error) {
	total := 0
	for _, mf := range Families(r.Snapshot(), options) {
		if len(mf.Metric) == 0 {
			continue
		}
		n, err := expfmt.MetricFamilyToText(w, mf)
		total += n
		if err != nil {
			return total, fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return total, nil
}

// Parse reads metrics in text format, keyed by name.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var p expfmt.TextParser
	return p.TextToMetricFamilies(r)
}
