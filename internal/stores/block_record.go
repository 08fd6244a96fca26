package stores

import (
	"strconv"
	"strings"
	"time"
)

const blockRecordVersionV1 = "1"

// The encoding is plain text so the atomic limiter script can parse it with
// string.match: "<version>:<tier>:<blocked_until_unix>".
func encodeBlockRecord(record BlockRecord) string {
	return blockRecordVersionV1 + ":" +
		strconv.Itoa(int(record.Tier)) + ":" +
		strconv.FormatInt(record.BlockedUntil.Unix(), 10)
}

func decodeBlockRecord(key, data string) (BlockRecord, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != blockRecordVersionV1 {
		return BlockRecord{}, ErrCorruptRecord
	}

	tier, err := strconv.Atoi(parts[1])
	if err != nil || tier < int(TierTemporary) || tier > int(TierExtended) {
		return BlockRecord{}, ErrCorruptRecord
	}
	until, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return BlockRecord{}, ErrCorruptRecord
	}

	return BlockRecord{
		Key:          key,
		BlockedUntil: time.Unix(until, 0),
		Tier:         Tier(tier),
	}, nil
}

// DecodeBlockRecord parses a raw registry value. Exposed for the atomic script
// path, which reads the same keys.
func DecodeBlockRecord(key, data string) (BlockRecord, error) {
	return decodeBlockRecord(key, data)
}
