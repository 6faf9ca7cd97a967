package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// MockWriteAPI stands in for the InfluxDB write API when no database is
// configured. Points are kept so tests can inspect what would have been sent.
type MockWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	records []string
	Keep    bool
}

// WriteRecord records a line protocol string when Keep is set.
func (m *MockWriteAPI) WriteRecord(line string) {
	if !m.Keep {
		return
	}
	m.mu.Lock()
	m.records = append(m.records, line)
	m.mu.Unlock()
}

// WritePoint records the point when Keep is set.
func (m *MockWriteAPI) WritePoint(point *write.Point) {
	if !m.Keep {
		return
	}
	m.mu.Lock()
	m.points = append(m.points, point)
	m.mu.Unlock()
}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

func (m *MockWriteAPI) Errors() <-chan error { return nil }

// Points returns the points with the given measurement name.
func (m *MockWriteAPI) Points(measurement string) []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ret []*write.Point
	for _, p := range m.points {
		if p.Name() == measurement {
			ret = append(ret, p)
		}
	}
	return ret
}
