package control

// Unescape decodes the octal escapes tmux applies to %output values:
// \ooo becomes the byte with that octal value and \\ becomes a single
// backslash. Malformed escapes are kept verbatim.
func Unescape(value []byte) []byte {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i+1 >= len(value) {
			out = append(out, c)
			continue
		}
		if value[i+1] == '\\' {
			out = append(out, '\\')
			i++
			continue
		}
		if i+3 < len(value) && value[i+1] <= '3' && isOctal(value[i+1]) && isOctal(value[i+2]) && isOctal(value[i+3]) {
			out = append(out, (value[i+1]-'0')<<6|(value[i+2]-'0')<<3|(value[i+3]-'0'))
			i += 3
			continue
		}
		out = append(out, c)
	}
	return out
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
