package util

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const bytesPerRow = 32

// PrettyPrintChunk renders the first limit bytes of data as u16 big-endian columns,
// offsets relative to base (the chunk's file offset).
func PrettyPrintChunk(data []byte, base uint64, limit int) string {
	if limit > len(data) {
		limit = len(data)
	}

	var s strings.Builder
	s.WriteString("┏━━━━━━━━━━━━┳━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┓\n")
	fmt.Fprintf(&s, "┃ Offset     ┃ u16 Chunks (BigEndian) - %8d bytes (0x%08x)                                 ┃\n",
		limit, limit)
	s.WriteString("┣━━━━━━━━━━━━╋━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┫\n")

	for i := 0; i < limit; i += bytesPerRow {
		fmt.Fprintf(&s, "┃ 0x%08x ┃ ", base+uint64(i))
		for j := 0; j < bytesPerRow; j += 2 {
			switch {
			case i+j+1 < limit:
				fmt.Fprintf(&s, "%04x ", binary.BigEndian.Uint16(data[i+j:i+j+2]))
			case i+j < limit:
				// odd tail
				fmt.Fprintf(&s, "%02x   ", data[i+j])
			default:
				s.WriteString("     ")
			}
			// Space every 8 bytes to keep your eyes from crossing
			if (j+2)%8 == 0 {
				s.WriteString(" ")
			}
		}
		s.WriteString("┃\n")
	}
	s.WriteString("┗━━━━━━━━━━━━┻━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛\n")

	return s.String()
}
