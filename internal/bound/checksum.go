package bound

import "hash/crc32"

// Checksum computes the running CRC-32C checksum of a byte region. It is
// used by memory providers (§4.1) to verify that checksummed writes satisfy
// checksum(region_after_write) == stored_checksum under Standard+ verification.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
}

// ChecksumUpdate folds newData into a running checksum without recomputing
// the whole region, used by providers that checksum per-page instead of
// per-write.
func ChecksumUpdate(prev uint32, newData []byte) uint32 {
	return crc32.Update(prev, crc32.MakeTable(crc32.Castagnoli), newData)
}
