// Package colorhash maps labels to stable, light background colors.
package colorhash

import (
	"fmt"
	"unicode/utf16"
)

// Of folds label into a 32-bit rolling hash (hash*31 + code unit, wrapping)
// and derives three channels in [127, 255] from its low three bytes. Labels
// are hashed as UTF-16 code units so colors agree with the browser viewer.
func Of(label string) string {
	var hash int32
	for _, unit := range utf16.Encode([]rune(label)) {
		hash = int32(unit) + ((hash << 5) - hash)
	}

	var channels [3]int32
	for i := range channels {
		b := (hash >> (uint(i) * 8)) & 0xff
		channels[i] = b/2 + 127
	}
	return fmt.Sprintf("#%02x%02x%02x", channels[0], channels[1], channels[2])
}
