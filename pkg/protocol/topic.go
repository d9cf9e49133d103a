package protocol

// Topic is the canonical topic record held by the topics manager. Name and
// NumPartitions are required at creation time; the remaining fields are
// advisory metadata. Zero means unset. BatchSize caps the record count of a
// single encoded batch in the partition writer.
type Topic struct {
	Name              string
	NumPartitions     uint32
	ReplicationFactor uint32
	RetentionPeriodMs int64
	BatchSize         uint32
}
