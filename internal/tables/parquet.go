package tables

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EncodedSnapshot holds the parquet encoding of each record class.
type EncodedSnapshot struct {
	Parquets  map[Class][]byte
	Checksums map[Class]string
	RowCounts map[Class]int64
}

// EncodeParquet encodes both record classes of the snapshot.
func EncodeParquet(snap Snapshot) (*EncodedSnapshot, error) {
	out := &EncodedSnapshot{
		Parquets:  make(map[Class][]byte, len(Classes)),
		Checksums: make(map[Class]string, len(Classes)),
		RowCounts: make(map[Class]int64, len(Classes)),
	}

	picks, err := encodeRows(snap.OrderSummaries)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ClassOrderSummaries, err)
	}
	out.add(ClassOrderSummaries, picks, len(snap.OrderSummaries))

	wos, err := encodeRows(snap.WorkOrders)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ClassWorkOrders, err)
	}
	out.add(ClassWorkOrders, wos, len(snap.WorkOrders))

	return out, nil
}

func (e *EncodedSnapshot) add(c Class, data []byte, rows int) {
	e.Parquets[c] = data
	e.Checksums[c] = Checksum(data)
	e.RowCounts[c] = int64(rows)
}

func encodeRows[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOrderSummaries reads order summaries back from parquet bytes.
func DecodeOrderSummaries(data []byte) ([]OrderSummary, error) {
	return decodeRows[OrderSummary](data)
}

// DecodeWorkOrders reads work orders back from parquet bytes.
func DecodeWorkOrders(data []byte) ([]WorkOrder, error) {
	return decodeRows[WorkOrder](data)
}

func decodeRows[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
