package client

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-quiver/internal/blob"
)

// Column names shared by the record builder and DecodeValues.
const (
	ColumnBlob   = "blob"
	ColumnShape  = "shape"
	ColumnValues = "values"
)

// Schema is the layout of records produced by RecordBatchBuilder: one row
// per blob.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: ColumnBlob, Type: arrow.BinaryTypes.String},
		{Name: ColumnShape, Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: ColumnValues, Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from net blobs.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

type row struct {
	name   string
	shape  []int
	values []float32
}

// BuildRecordBatch converts blobs into a RecordBatch, one row per blob in
// name order. It returns nil for an empty map.
func (b *RecordBatchBuilder) BuildRecordBatch(blobs map[string]*blob.Blob) (arrow.RecordBatch, error) {
	rows := make([]row, 0, len(blobs))
	for name, bl := range blobs {
		if bl == nil {
			return nil, fmt.Errorf("blob %q is nil", name)
		}
		rows = append(rows, row{name: name, shape: bl.Shape(), values: bl.Data()})
	}
	return b.build(rows), nil
}

// BuildValuesRecord is BuildRecordBatch for plain value slices. Each row's
// shape is its length.
func (b *RecordBatchBuilder) BuildValuesRecord(values map[string][]float32) arrow.RecordBatch {
	rows := make([]row, 0, len(values))
	for name, v := range values {
		rows = append(rows, row{name: name, shape: []int{len(v)}, values: v})
	}
	return b.build(rows)
}

func (b *RecordBatchBuilder) build(rows []row) arrow.RecordBatch {
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	nameBuilder := array.NewStringBuilder(b.mem)
	defer nameBuilder.Release()

	shapeBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Int32)
	defer shapeBuilder.Release()
	dims := shapeBuilder.ValueBuilder().(*array.Int32Builder)

	valueBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float32)
	defer valueBuilder.Release()
	values := valueBuilder.ValueBuilder().(*array.Float32Builder)

	for _, r := range rows {
		nameBuilder.Append(r.name)

		shapeBuilder.Append(true)
		for _, d := range r.shape {
			dims.Append(int32(d))
		}

		valueBuilder.Append(true)
		values.AppendValues(r.values, nil)
	}

	cols := []arrow.Array{nameBuilder.NewArray(), shapeBuilder.NewArray(), valueBuilder.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(Schema, cols, int64(len(rows)))
}

// DecodeValues reads the blob and values columns of a record into a map of
// blob name to values. Other columns are ignored.
func DecodeValues(rec arrow.RecordBatch) (map[string][]float32, error) {
	nameIdx := rec.Schema().FieldIndices(ColumnBlob)
	valueIdx := rec.Schema().FieldIndices(ColumnValues)
	if len(nameIdx) == 0 || len(valueIdx) == 0 {
		return nil, fmt.Errorf("record needs %q and %q columns", ColumnBlob, ColumnValues)
	}

	names, ok := rec.Column(nameIdx[0]).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want utf8", ColumnBlob, rec.Column(nameIdx[0]).DataType())
	}
	lists, ok := rec.Column(valueIdx[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want list<float32>", ColumnValues, rec.Column(valueIdx[0]).DataType())
	}
	flat, ok := lists.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want list<float32>", ColumnValues, lists.DataType())
	}

	out := make(map[string][]float32, names.Len())
	for i := 0; i < names.Len(); i++ {
		if names.IsNull(i) {
			return nil, fmt.Errorf("row %d: null blob name", i)
		}
		start, end := lists.ValueOffsets(i)
		vals := make([]float32, 0, end-start)
		for j := start; j < end; j++ {
			vals = append(vals, flat.Value(int(j)))
		}
		out[names.Value(i)] = vals
	}
	return out, nil
}
