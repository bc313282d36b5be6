package queue

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// storedRecord is the envelope a durable row carries around the opaque item.
type storedRecord struct {
	Payload    []byte `msgpack:"payload"`
	EnqueuedMs int64  `msgpack:"enqueued_ms"`
}

func encodeRecord(payload []byte) ([]byte, error) {
	return msgpack.Marshal(storedRecord{Payload: payload, EnqueuedMs: time.Now().UnixMilli()})
}

func decodeRecord(b []byte) ([]byte, error) {
	var rec storedRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return rec.Payload, nil
}
