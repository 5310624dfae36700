package journal

import (
	"encoding/json"
	"hash/crc32"
)

// CalculateChecksum returns the CRC32 (IEEE) of the record's JSON encoding
// with the Checksum field zeroed.
func CalculateChecksum(record Record) (uint32, error) {
	record.Checksum = 0
	data, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(data), nil
}

// VerifyChecksum checks a decoded record against its stored checksum.
func VerifyChecksum(record Record) error {
	expected, err := CalculateChecksum(record)
	if err != nil {
		return err
	}
	if expected != record.Checksum {
		return &ChecksumError{Seq: record.Seq, Expected: expected, Actual: record.Checksum}
	}
	return nil
}
