package echo

// caseBit distinguishes ASCII lowercase from uppercase letters.
const caseBit = 0x20

// Upper maps an ASCII lowercase letter to uppercase. Every other byte value,
// including non-ASCII bytes, is returned unchanged.
func Upper(b byte) byte {
	if 'a' <= b && b <= 'z' {
		return b &^ caseBit
	}
	return b
}

// UpperInPlace applies Upper to every byte of buf.
func UpperInPlace(buf []byte) {
	for i, b := range buf {
		buf[i] = Upper(b)
	}
}
