package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// table 一个CSV输出文件，首次写入时带表头
type table[T any] struct {
	name          string
	file          *os.File
	headerWritten bool
}

func openTable[T any](dir, name string) (*table[T], error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &table[T]{name: name, file: f}, nil
}

func (t *table[T]) write(records []T) error {
	if len(records) == 0 {
		return nil
	}
	if !t.headerWritten {
		if err := gocsv.Marshal(records, t.file); err != nil {
			return fmt.Errorf("writing %s: %w", t.name, err)
		}
		t.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, t.file); err != nil {
		return fmt.Errorf("writing %s: %w", t.name, err)
	}
	return nil
}

func (t *table[T]) close() error {
	if t == nil || t.file == nil {
		return nil
	}
	return t.file.Close()
}

// OutputManager 仿真过程的CSV输出
// 说明：dir为空时NewOutputManager返回nil，nil接收者上的全部方法均为空操作
type OutputManager struct {
	dir           string
	vehicles      *table[VehicleRecord]
	lanes         *table[LaneRecord]
	intersections *table[IntersectionRecord]
}

// NewOutputManager 创建输出目录与vehicles.csv、lanes.csv、intersections.csv
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	om := &OutputManager{dir: dir}
	var err error
	if om.vehicles, err = openTable[VehicleRecord](dir, "vehicles.csv"); err != nil {
		return nil, err
	}
	if om.lanes, err = openTable[LaneRecord](dir, "lanes.csv"); err != nil {
		om.Close()
		return nil, err
	}
	if om.intersections, err = openTable[IntersectionRecord](dir, "intersections.csv"); err != nil {
		om.Close()
		return nil, err
	}
	return om, nil
}

func (om *OutputManager) WriteVehicles(records []VehicleRecord) error {
	if om == nil {
		return nil
	}
	return om.vehicles.write(records)
}

func (om *OutputManager) WriteLanes(records []LaneRecord) error {
	if om == nil {
		return nil
	}
	return om.lanes.write(records)
}

func (om *OutputManager) WriteIntersections(records []IntersectionRecord) error {
	if om == nil {
		return nil
	}
	return om.intersections.write(records)
}

// Dir 输出目录，输出关闭时为空
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close 关闭全部输出文件，返回第一个错误
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	var firstErr error
	for _, closer := range []func() error{om.vehicles.close, om.lanes.close, om.intersections.close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
