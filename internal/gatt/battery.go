package gatt

// DecodeBattery decodes a Battery Level (0x2A19) value: exactly one byte
// in the range 0-100. Anything else is malformed.
func DecodeBattery(data []byte) (uint8, error) {
	if len(data) != 1 {
		return 0, malformed("battery level must be 1 byte, got %d", len(data))
	}
	if data[0] > 100 {
		return 0, malformed("battery level %d out of range 0-100", data[0])
	}
	return data[0], nil
}
